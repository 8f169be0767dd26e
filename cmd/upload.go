// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/stimlink/pkg/device"
	"github.com/Thermoquad/stimlink/pkg/isa"
	"github.com/Thermoquad/stimlink/pkg/snapshot"
)

var (
	uploadSlot   string
	uploadSettle time.Duration
	uploadDryRun bool
	uploadSnap   string
)

var uploadCmd = &cobra.Command{
	Use:   "upload PROGRAM",
	Short: "Upload an assembly program and start it as a mode",
	Long: `Assemble PROGRAM, write its modules into the scratchpad and start them as
a user mode.

Modules are separated by blank lines or "end". At most 8 modules and 191
bytes fit. Without --slot the mode goes into the slot above the current top
mode.

--dry-run does not connect: it lays the program out, prints the listing, then
runs the planned bytecode once on both channels in the simulator (starting
from --snapshot if given) and prints the registers it changed.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().StringVar(&uploadSlot, "slot", "", "Mode slot to use (0x88-0x8E)")
	uploadCmd.Flags().DurationVar(&uploadSettle, "settle", device.DefaultSettleDelay, "Pause after each mode-switch command")
	uploadCmd.Flags().BoolVar(&uploadDryRun, "dry-run", false, "Plan and simulate the upload without connecting")
	uploadCmd.Flags().StringVar(&uploadSnap, "snapshot", "", "Initial register file for --dry-run (CBOR snapshot)")
}

func runUpload(cmd *cobra.Command, args []string) error {
	modules, err := readProgram(args[0])
	if err != nil {
		return err
	}

	plan, err := device.PlanUpload(modules)
	if err != nil {
		return err
	}
	printPlan(plan)

	if uploadDryRun {
		return simulatePlan(plan, uploadSnap)
	}

	opts := []device.UploadOption{device.WithSettleDelay(uploadSettle)}
	if uploadSlot != "" {
		slot, err := parseByteArg(uploadSlot)
		if err != nil {
			return err
		}
		opts = append(opts, device.WithSlot(slot))
	}

	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(40))
	opts = append(opts, device.WithProgress(func(done, total int) {
		fmt.Printf("\r%s %d/%d", bar.ViewAs(float64(done)/float64(total)), done, total)
	}))

	ctx, cancel := commandContext(cmd)
	defer cancel()

	dev, connInfo, err := OpenDevice(ctx)
	if err != nil {
		return err
	}
	defer closeDevice(dev)

	fmt.Printf("\nUploading to %s\n", connInfo)
	start := time.Now()
	result, err := dev.UploadProgram(ctx, modules, opts...)
	fmt.Println()
	if err != nil {
		return err
	}

	fmt.Printf("Started mode 0x%02X (%d instruction(s), %d byte(s)) in %s\n",
		result.Slot, result.Plan.Instructions(), result.Plan.Size, time.Since(start).Round(time.Millisecond))
	return nil
}

func printPlan(plan *device.Plan) {
	for m, module := range plan.Modules {
		fmt.Printf("Module %d at %04X:\n", m, plan.Starts[m])
		var data []byte
		for _, raw := range module {
			data = append(data, raw...)
		}
		data = append(data, isa.EndOfModule)
		listing, _ := isa.FormatListing(plan.Starts[m], data)
		fmt.Print(listing)
	}
	fmt.Printf("%d module(s), %d/%d scratchpad bytes\n", len(plan.Modules), plan.Size, device.ScratchpadSize)
}

// plannedModules decodes the bytecode of a plan, so a dry run executes
// exactly what would be written.
func plannedModules(plan *device.Plan) ([][]isa.Instruction, error) {
	modules := make([][]isa.Instruction, len(plan.Modules))
	for m, module := range plan.Modules {
		modules[m] = make([]isa.Instruction, 0, len(module))
		for i, raw := range module {
			instr, err := isa.Decode(raw)
			if err != nil {
				return nil, fmt.Errorf("module %d instruction %d: %w", m, i, err)
			}
			modules[m] = append(modules[m], instr)
		}
	}
	return modules, nil
}

// simulatePlan runs a planned upload once on both channels and prints the
// registers it changed
func simulatePlan(plan *device.Plan, snapPath string) error {
	modules, err := plannedModules(plan)
	if err != nil {
		return err
	}

	regs := isa.Registers{}
	if snapPath != "" {
		snap, err := snapshot.Load(snapPath)
		if err != nil {
			return err
		}
		regs = snap.Registers()
	}
	regs[selectRegister] = isa.SelectBoth

	before := regs.Clone()
	after, err := runModules(modules, regs, 0)
	if err != nil {
		return fmt.Errorf("dry run: %w", err)
	}

	fmt.Println("\nDry run, one pass on channels A and B:")
	printRegisterChanges(before, after)
	return nil
}

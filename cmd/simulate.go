// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/stimlink/pkg/isa"
	"github.com/Thermoquad/stimlink/pkg/snapshot"
)

var (
	simSnapshot string
	simSelect   string
	simSeed     uint64
	simOutput   string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate PROGRAM",
	Short: "Run an assembly program against a simulated register file",
	Long: `Assemble PROGRAM and execute every module against a register file.

The register file starts empty, or from a snapshot written by dump. The
channel-select register is set from --select unless the snapshot already
holds it. Registers that changed are printed afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simSnapshot, "snapshot", "", "Initial register file (CBOR snapshot)")
	simulateCmd.Flags().StringVar(&simSelect, "select", "both", "Channels to run: a, b or both")
	simulateCmd.Flags().Uint64Var(&simSeed, "seed", 0, "Seed for rand (0 picks one from the clock)")
	simulateCmd.Flags().StringVarP(&simOutput, "output", "o", "", "Save the final register file as a snapshot")
}

func parseSelect(s string) (byte, error) {
	switch s {
	case "a", "A":
		return isa.SelectA, nil
	case "b", "B":
		return isa.SelectB, nil
	case "both":
		return isa.SelectBoth, nil
	default:
		return 0, fmt.Errorf("invalid channel selection %q (want a, b or both)", s)
	}
}

func runSimulate(cmd *cobra.Command, args []string) error {
	modules, err := readProgram(args[0])
	if err != nil {
		return err
	}

	regs := isa.Registers{}
	if simSnapshot != "" {
		snap, err := snapshot.Load(simSnapshot)
		if err != nil {
			return err
		}
		regs = snap.Registers()
	}

	selectAddr := uint16(isa.RAMBase + isa.ChannelSelectOffset)
	if _, ok := regs[selectAddr]; !ok || cmd.Flags().Changed("select") {
		sel, err := parseSelect(simSelect)
		if err != nil {
			return err
		}
		regs[selectAddr] = sel
	}

	before := regs.Clone()
	after, err := runModules(modules, regs, simSeed)
	if err != nil {
		return err
	}

	printRegisterChanges(before, after)

	if simOutput != "" {
		if err := snapshot.FromRegisters("simulate "+args[0], after).Save(simOutput); err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
		fmt.Printf("Saved register file to %s\n", simOutput)
	}
	return nil
}

// runModules executes modules in order against regs, which is modified in
// place and returned. A zero seed picks one from the clock.
func runModules(modules [][]isa.Instruction, regs isa.Registers, seed uint64) (isa.Registers, error) {
	opts := []isa.SimulatorOption{isa.WithSimulatorLogger(logger.With("component", "simulator"))}
	if seed != 0 {
		opts = append(opts, isa.WithRand(rand.New(rand.NewPCG(seed, seed))))
	}
	sim := isa.NewSimulator(regs, opts...)

	for i, module := range modules {
		if err := sim.Run(module); err != nil {
			return sim.Registers(), fmt.Errorf("module %d: %w", i, err)
		}
	}
	return sim.Registers(), nil
}

func printRegisterChanges(before, after isa.Registers) {
	var changed []uint16
	for addr, v := range after {
		if old, ok := before[addr]; !ok || old != v {
			changed = append(changed, addr)
		}
	}
	slices.Sort(changed)

	if len(changed) == 0 {
		fmt.Println("No registers changed")
		return
	}
	fmt.Printf("%-6s  %-6s  %s\n", "ADDR", "BEFORE", "AFTER")
	for _, addr := range changed {
		old := "--"
		if v, ok := before[addr]; ok {
			old = fmt.Sprintf("%02X", v)
		}
		fmt.Printf("%04X    %-6s  %02X\n", addr, old, after[addr])
	}
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/stimlink/pkg/isa"
)

var (
	disasmFile    string
	disasmLive    bool
	disasmAddress string
	disasmLimit   int
	disasmBase    string
)

var disasmCmd = &cobra.Command{
	Use:   "disasm [HEX...]",
	Short: "Disassemble module bytecode",
	Long: `Disassemble a module from hex bytes, a binary file, or live device memory.

Examples:
  stimlink disasm 98 50 40 A0 00
  stimlink disasm --file module.bin
  stimlink disasm --live --address 0x40C0 -p /dev/ttyUSB0`,
	RunE: runDisasm,
}

func init() {
	rootCmd.AddCommand(disasmCmd)
	disasmCmd.Flags().StringVarP(&disasmFile, "file", "f", "", "Read bytecode from a binary file (- for stdin)")
	disasmCmd.Flags().BoolVar(&disasmLive, "live", false, "Read the module from device memory")
	disasmCmd.Flags().StringVar(&disasmAddress, "address", "0x40C0", "Start address for --live")
	disasmCmd.Flags().IntVar(&disasmLimit, "limit", 191, "Maximum bytes to read with --live (0 for no limit)")
	disasmCmd.Flags().StringVar(&disasmBase, "base", "0x40C0", "Address printed for the first byte of offline input")
}

func runDisasm(cmd *cobra.Command, args []string) error {
	if disasmLive {
		return runDisasmLive(cmd)
	}

	var data []byte
	var err error
	switch {
	case disasmFile != "":
		data, err = readInput(disasmFile)
	case len(args) > 0:
		data, err = parseHexBytes(args)
	default:
		return fmt.Errorf("no input: pass hex bytes, --file or --live")
	}
	if err != nil {
		return err
	}

	base, err := parseAddress(disasmBase)
	if err != nil {
		return err
	}

	listing, err := isa.FormatListing(base, data)
	fmt.Print(listing)
	return err
}

func runDisasmLive(cmd *cobra.Command) error {
	start, err := parseAddress(disasmAddress)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	dev, _, err := OpenDevice(ctx)
	if err != nil {
		return err
	}
	defer closeDevice(dev)

	module, err := isa.CollectModule(ctx, dev.ByteSource(start, disasmLimit))
	if err != nil {
		return err
	}

	data, err := isa.EncodeModule(module)
	if err != nil {
		return err
	}
	listing, err := isa.FormatListing(start, data)
	fmt.Print(listing)
	if err != nil {
		return err
	}
	fmt.Printf("\n%d instruction(s), %d byte(s)\n", len(module), len(data))
	return nil
}

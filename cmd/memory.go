// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/stimlink/pkg/snapshot"
)

var dumpOutput string

var peekCmd = &cobra.Command{
	Use:   "peek ADDRESS [COUNT]",
	Short: "Read bytes from device memory",
	Long: `Read COUNT bytes (default 1) starting at ADDRESS and print them as hex.

Addresses and counts may be decimal or 0x-prefixed hex.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPeek,
}

var pokeCmd = &cobra.Command{
	Use:   "poke ADDRESS BYTE...",
	Short: "Write bytes to device memory",
	Long: `Write one or more bytes starting at ADDRESS. Writes longer than 12 bytes
are split into several pokes.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runPoke,
}

var dumpCmd = &cobra.Command{
	Use:   "dump START COUNT",
	Short: "Dump a memory range, optionally to a snapshot file",
	Long: `Read COUNT bytes starting at START and print a hex dump.

With --output the range is also saved as a CBOR snapshot that the simulate
command can load as its initial register file.`,
	Args: cobra.ExactArgs(2),
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(peekCmd)
	rootCmd.AddCommand(pokeCmd)
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().StringVarP(&dumpOutput, "output", "o", "", "Write the dump to a snapshot file")
}

func parseCount(s string) (int, error) {
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid count %q", s)
	}
	return int(n), nil
}

func runPeek(cmd *cobra.Command, args []string) error {
	addr, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	count := 1
	if len(args) == 2 {
		if count, err = parseCount(args[1]); err != nil {
			return err
		}
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	dev, _, err := OpenDevice(ctx)
	if err != nil {
		return err
	}
	defer closeDevice(dev)

	data, err := dev.PeekRange(ctx, addr, count)
	if err != nil {
		return err
	}
	if count == 1 {
		fmt.Printf("%04X: %02X\n", addr, data[0])
		return nil
	}
	fmt.Print(hexDump(addr, data))
	return nil
}

func runPoke(cmd *cobra.Command, args []string) error {
	addr, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	data := make([]byte, 0, len(args)-1)
	for _, arg := range args[1:] {
		v, err := parseByteArg(arg)
		if err != nil {
			return err
		}
		data = append(data, v)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	dev, _, err := OpenDevice(ctx)
	if err != nil {
		return err
	}
	defer closeDevice(dev)

	if err := dev.PokeRange(ctx, addr, data); err != nil {
		return err
	}
	fmt.Printf("Wrote %d byte(s) at %04X\n", len(data), addr)
	return nil
}

func runDump(cmd *cobra.Command, args []string) error {
	start, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	count, err := parseCount(args[1])
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	dev, connInfo, err := OpenDevice(ctx)
	if err != nil {
		return err
	}
	defer closeDevice(dev)

	data, err := dev.PeekRange(ctx, start, count)
	if err != nil {
		return err
	}
	fmt.Print(hexDump(start, data))

	if dumpOutput != "" {
		snap := snapshot.New(connInfo)
		snap.Add(start, data)
		if err := snap.Save(dumpOutput); err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
		fmt.Printf("Saved %d byte(s) to %s\n", len(data), dumpOutput)
	}
	return nil
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/stimlink/pkg/device"
	"github.com/Thermoquad/stimlink/pkg/link"
)

var probeTimeout int

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test the link by performing the handshake",
	Long: `Connect to the controller, synchronize and negotiate a session key.

On success the negotiated key and the link statistics are printed and the key
is reset on the device before disconnecting.

Exit codes:
  0 - Handshake completed
  1 - No device answered, or the handshake failed
  2 - Connection error

Useful for checking the cable and the WebSocket serial bridge.`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "wait", 10, "Seconds to wait for the handshake")
}

func runProbe(cmd *cobra.Command, args []string) error {
	ch, connInfo, err := OpenChannel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Stimlink - Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Synchronizing...\n\n")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(probeTimeout)*time.Second)
	defer cancel()

	dev := device.New(ch, device.WithLogger(logger.With("component", "device")))
	start := time.Now()
	err = dev.Handshake(ctx)
	elapsed := time.Since(start)

	if err != nil {
		ch.Close()
		switch {
		case errors.Is(err, device.ErrNoDevice):
			fmt.Fprintf(os.Stderr, "NO DEVICE: %v\n", err)
		case link.IsFramingError(err):
			fmt.Fprintf(os.Stderr, "FRAMING ERROR: %v\n", err)
			fmt.Fprintf(os.Stderr, "Check the cable and baud rate, then power cycle the device\n")
		case errors.Is(err, context.DeadlineExceeded):
			fmt.Fprintf(os.Stderr, "TIMEOUT: handshake did not finish within %d seconds\n", probeTimeout)
		default:
			fmt.Fprintf(os.Stderr, "HANDSHAKE FAILED: %v\n", err)
		}
		os.Exit(1)
	}

	key, _ := ch.Key()
	fmt.Printf("SUCCESS: Handshake completed in %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Key: 0x%02X\n\n", key)
	fmt.Print(ch.Stats().String())

	closeDevice(dev)
	os.Exit(0)
	return nil
}

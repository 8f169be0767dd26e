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
)

var (
	pingTimeout time.Duration
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure round-trip time with sync probes",
	Long: `Send sync bytes to the controller and time each reply.

No key is negotiated, so the device is left as it was found. Works over both
serial and the WebSocket bridge, which makes it useful for verifying:
  - The bridge connection and HTTP Basic authentication
  - Bidirectional byte flow through the bridge
  - Link latency before a long upload

Exit codes:
  0 - All pings answered
  1 - One or more pings failed or timed out
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().DurationVar(&pingTimeout, "wait", device.DefaultSyncTimeout, "Timeout for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	ch, connInfo, err := OpenChannel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer ch.Close()

	fmt.Printf("Stimlink - Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %s per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	dev := device.New(ch,
		device.WithLogger(logger.With("component", "device")),
		device.WithSyncAttempts(1),
		device.WithSyncTimeout(pingTimeout),
	)

	ctx := cmd.Context()
	successCount := 0
	failCount := 0
	var total time.Duration

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		if err := ch.Flush(ctx); err != nil {
			fmt.Printf("FLUSH FAILED: %v\n", err)
			failCount++
			break
		}

		startTime := time.Now()
		err := dev.Synchronize(ctx)
		rtt := time.Since(startTime)

		switch {
		case err == nil:
			fmt.Printf("reply, rtt=%v\n", rtt.Round(time.Millisecond))
			total += rtt
			successCount++
		case errors.Is(err, device.ErrNoDevice):
			fmt.Printf("TIMEOUT (no reply in %s)\n", pingTimeout)
			failCount++
		default:
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		}

		if errors.Is(err, context.Canceled) {
			break
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d replies received, %.0f%% loss\n",
		pingCount, successCount, float64(pingCount-successCount)/float64(pingCount)*100)
	if successCount > 0 {
		fmt.Printf("average rtt=%v\n", (total / time.Duration(successCount)).Round(time.Millisecond))
	}

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

var portsUSBOnly bool

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Long: `List the serial ports on this machine, with USB vendor and product IDs
where available.

The controller link cable is usually a USB serial adapter; use --usb to hide
built-in ports.`,
	Args: cobra.NoArgs,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
	portsCmd.Flags().BoolVar(&portsUSBOnly, "usb", false, "Only list USB serial adapters")
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return fmt.Errorf("failed to enumerate ports: %w", err)
	}

	shown := 0
	for _, port := range ports {
		if portsUSBOnly && !port.IsUSB {
			continue
		}
		shown++
		if port.IsUSB {
			fmt.Printf("%-20s USB %s:%s", port.Name, port.VID, port.PID)
			if port.Product != "" {
				fmt.Printf("  %s", port.Product)
			}
			if port.SerialNumber != "" {
				fmt.Printf("  (serial %s)", port.SerialNumber)
			}
			fmt.Println()
			continue
		}
		fmt.Printf("%-20s\n", port.Name)
	}

	if shown == 0 {
		fmt.Println("No serial ports found")
	}
	return nil
}

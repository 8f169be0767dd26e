// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Stimlink - serial link tool for two-channel stimulation controllers
//
// Talks to the controller's command protocol over a serial port or a
// WebSocket serial bridge: handshake, memory peek and poke, module
// upload, firmware flashing and live register monitoring.

package main

import (
	"os"

	"github.com/Thermoquad/stimlink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

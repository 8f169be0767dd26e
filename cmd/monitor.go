// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/stimlink/pkg/device"
	"github.com/Thermoquad/stimlink/pkg/isa"
	"github.com/Thermoquad/stimlink/pkg/link"
)

var monitorInterval time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor [ADDRESS...]",
	Short: "Interactive TUI for watching and poking registers",
	Long: `Watch device registers in an interactive terminal UI.

Each watched register is peeked every --interval and changes are
highlighted. Without arguments a default set is watched (mode, top mode,
channel select and the per-channel bank cells).

Tab switches between the register list and the command line. Commands:
  poke ADDRESS VALUE   write a byte
  watch ADDRESS        add a register to the list
  unwatch ADDRESS      remove a register from the list

The session key is reset on the device when the monitor exits.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 500*time.Millisecond, "Poll interval")
}

// Per-channel registers
const (
	selectRegister = isa.RAMBase + isa.ChannelSelectOffset
	bankA          = isa.RAMBase + isa.BankOffset
	bankB          = bankA + isa.ChannelBOffset
	randMinA       = isa.RAMBase + isa.RandMinOffset
	randMaxA       = isa.RAMBase + isa.RandMaxOffset
	randMinB       = randMinA + isa.ChannelBOffset
	randMaxB       = randMaxA + isa.ChannelBOffset
)

// registerNames labels well-known addresses in the register list
var registerNames = map[uint16]string{
	device.KeyRegister:        "session key",
	device.BoxCommandRegister: "box command",
	device.ModeRegister:       "mode",
	device.TopModeRegister:    "top mode",
	selectRegister:            "channel select",
	bankA:                     "bank A",
	bankB:                     "bank B",
	randMinA:                  "rand min A",
	randMaxA:                  "rand max A",
	randMinB:                  "rand min B",
	randMaxB:                  "rand max B",
}

var defaultWatch = []uint16{
	device.ModeRegister,
	device.TopModeRegister,
	selectRegister,
	bankA,
	bankB,
}

// deviceGuard serializes device access from concurrently running tea
// commands. A peek or poke is a request and its reply; two in flight at
// once would interleave on the link.
type deviceGuard struct {
	mu      sync.Mutex
	dev     *device.Device
	timeout time.Duration
}

func (g *deviceGuard) peekAll(addrs []uint16) (map[uint16]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	values := make(map[uint16]byte, len(addrs))
	for _, addr := range addrs {
		v, err := g.dev.Peek(ctx, addr)
		if err != nil {
			return values, err
		}
		values[addr] = v
	}
	return values, nil
}

func (g *deviceGuard) poke(addr uint16, value byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	return g.dev.Poke(ctx, addr, value)
}

func (g *deviceGuard) stats() link.Stats {
	return g.dev.Channel().Stats()
}

func runMonitor(cmd *cobra.Command, args []string) error {
	watch := defaultWatch
	if len(args) > 0 {
		watch = make([]uint16, 0, len(args))
		for _, arg := range args {
			addr, err := parseAddress(arg)
			if err != nil {
				return err
			}
			watch = append(watch, addr)
		}
	}
	if monitorInterval < 50*time.Millisecond {
		return fmt.Errorf("--interval must be at least 50ms, got %s", monitorInterval)
	}

	ctx, cancel := commandContext(cmd)
	dev, connInfo, err := OpenDevice(ctx)
	cancel()
	if err != nil {
		return err
	}
	defer closeDevice(dev)

	guard := &deviceGuard{dev: dev, timeout: 5 * time.Second}
	m := initialMonitorModel(guard, connInfo, watch)

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}

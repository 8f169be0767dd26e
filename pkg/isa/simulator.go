// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package isa

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Registers is a sparse register file keyed by full device address.
// Addresses never written read as zero.
type Registers map[uint16]byte

// Clone returns an independent copy of r.
func (r Registers) Clone() Registers {
	out := make(Registers, len(r))
	for addr, v := range r {
		out[addr] = v
	}
	return out
}

type channel struct {
	name   string
	bit    byte
	offset uint16
}

var channels = [2]channel{
	{name: "A", bit: SelectA, offset: 0},
	{name: "B", bit: SelectB, offset: ChannelBOffset},
}

// Simulator executes instructions against a Registers map the way the
// device does, minus control transfer.
type Simulator struct {
	regs   Registers
	rng    *rand.Rand
	logger *slog.Logger
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithRand sets the random source used by rand instructions.
func WithRand(rng *rand.Rand) SimulatorOption {
	return func(s *Simulator) {
		if rng != nil {
			s.rng = rng
		}
	}
}

// WithSimulatorLogger sets the logger used to trace executed instructions.
func WithSimulatorLogger(logger *slog.Logger) SimulatorOption {
	return func(s *Simulator) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSimulator returns a simulator operating on regs in place. A nil regs
// starts from an empty register file.
func NewSimulator(regs Registers, opts ...SimulatorOption) *Simulator {
	if regs == nil {
		regs = Registers{}
	}
	seed := uint64(time.Now().UnixNano())
	s := &Simulator{
		regs:   regs,
		rng:    rand.New(rand.NewPCG(seed, seed>>32)),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registers returns the register file the simulator mutates.
func (s *Simulator) Registers() Registers {
	return s.regs
}

// Run steps through module in order and stops at the first error.
func (s *Simulator) Run(module []Instruction) error {
	for i, instr := range module {
		if err := s.Step(instr); err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
	}
	return nil
}

// Step executes one instruction once for each channel enabled in the
// channel-select register, A before B. With no channel selected it does
// nothing.
func (s *Simulator) Step(instr Instruction) error {
	selected := s.regs[RAMBase+ChannelSelectOffset]
	for _, ch := range channels {
		if selected&ch.bit == 0 {
			continue
		}
		if err := s.exec(ch, instr); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) exec(ch channel, instr Instruction) error {
	s.logger.Debug("step", slog.String("channel", ch.name), slog.String("instr", instr.String()))

	switch i := instr.(type) {
	case Set:
		s.write(ch, i.Address, i.Value)
	case Copy:
		for n, v := range i.Values {
			s.write(ch, i.Address+uint16(n), v)
		}
	case Store:
		s.write(ch, BankOffset, s.read(ch, i.Address))
	case Load:
		s.write(ch, i.Address, s.read(ch, BankOffset))
	case Div2:
		s.write(ch, i.Address, s.read(ch, i.Address)>>1)
	case Rand:
		lo, hi := s.read(ch, RandMinOffset), s.read(ch, RandMaxOffset)
		if lo > hi {
			lo, hi = hi, lo
		}
		s.write(ch, i.Address, lo+byte(s.rng.IntN(int(hi-lo)+1)))
	case CondExec:
		if s.read(ch, i.Address) == s.read(ch, BankOffset) {
			return &UnsupportedError{Instr: instr, Reason: "condition matched on channel " + ch.name + ", module jump not simulated"}
		}
	case Add:
		s.write(ch, i.Address, s.read(ch, i.Address)+i.Value)
	case And:
		s.write(ch, i.Address, s.read(ch, i.Address)&i.Value)
	case Or:
		s.write(ch, i.Address, s.read(ch, i.Address)|i.Value)
	case Xor:
		s.write(ch, i.Address, s.read(ch, i.Address)^i.Value)
	default:
		return &UnsupportedError{Instr: instr, Reason: fmt.Sprintf("unknown instruction type %T", instr)}
	}
	return nil
}

// resolve maps an instruction address to a full device address for ch.
// Channel B sees its own copy of the temporary store.
func resolve(ch channel, addr uint16) uint16 {
	if addr >= TempStoreStart && addr <= TempStoreEnd {
		addr += ch.offset
	}
	return RAMBase + addr
}

func (s *Simulator) read(ch channel, addr uint16) byte {
	return s.regs[resolve(ch, addr)]
}

func (s *Simulator) write(ch channel, addr uint16, v byte) {
	s.regs[resolve(ch, addr)] = v
}

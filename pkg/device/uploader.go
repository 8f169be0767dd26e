// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Thermoquad/stimlink/pkg/isa"
)

// Plan is the scratchpad layout of a program, computed without touching the
// device.
type Plan struct {
	// Modules holds each module's encoded instructions, terminator excluded.
	// An empty program is planned as a single empty module.
	Modules [][][]byte

	// Starts holds each module's start address in the scratchpad
	Starts []uint16

	// Size is the number of scratchpad bytes used, terminators included
	Size int
}

// Instructions returns the number of instructions in the plan.
func (p *Plan) Instructions() int {
	n := 0
	for _, module := range p.Modules {
		n += len(module)
	}
	return n
}

// PlanUpload encodes modules and lays them out in the scratchpad. It fails
// if any instruction cannot be encoded, if there are more modules than
// pointer table entries, or if the program does not fit.
func PlanUpload(modules [][]isa.Instruction) (*Plan, error) {
	if len(modules) == 0 {
		modules = [][]isa.Instruction{{}}
	}
	if len(modules) > MaxModules {
		return nil, &CapacityError{What: "modules", Need: len(modules), Have: MaxModules}
	}

	plan := &Plan{
		Modules: make([][][]byte, len(modules)),
		Starts:  make([]uint16, len(modules)),
	}
	for m, module := range modules {
		plan.Starts[m] = uint16(ScratchpadStart + plan.Size)
		encoded := make([][]byte, len(module))
		for i, instr := range module {
			b, err := isa.Encode(instr)
			if err != nil {
				return nil, fmt.Errorf("module %d instruction %d: %w", m, i, err)
			}
			encoded[i] = b
			plan.Size += len(b)
		}
		plan.Modules[m] = encoded
		plan.Size++ // terminator
	}

	if plan.Size > ScratchpadSize {
		return nil, &CapacityError{What: "bytes", Need: plan.Size, Have: ScratchpadSize}
	}
	return plan, nil
}

// UploadOption configures UploadProgram.
type UploadOption func(*uploadConfig)

type uploadConfig struct {
	slot        byte
	hasSlot     bool
	settleDelay time.Duration
	progress    func(done, total int)
}

// WithSlot pins the mode slot instead of using the one above the current
// top mode.
func WithSlot(slot byte) UploadOption {
	return func(c *uploadConfig) {
		c.slot = slot
		c.hasSlot = true
	}
}

// WithSettleDelay sets the pause after each mode-switch box command.
func WithSettleDelay(delay time.Duration) UploadOption {
	return func(c *uploadConfig) {
		c.settleDelay = delay
	}
}

// WithProgress registers a callback invoked after each instruction is
// written.
func WithProgress(fn func(done, total int)) UploadOption {
	return func(c *uploadConfig) {
		c.progress = fn
	}
}

// UploadResult describes a completed upload.
type UploadResult struct {
	Plan *Plan
	Slot byte
}

// UploadProgram writes modules into the scratchpad and starts them as a
// mode. Every module is validated before the first write.
//
// Each instruction is written together with a trailing terminator, so an
// interrupted upload leaves a short but well-formed module behind. Module
// offsets go into the pointer table, the chosen mode slot's start vector is
// pointed at the first scratchpad module, and the mode is started.
func (d *Device) UploadProgram(ctx context.Context, modules [][]isa.Instruction, opts ...UploadOption) (*UploadResult, error) {
	cfg := uploadConfig{settleDelay: DefaultSettleDelay}
	for _, opt := range opts {
		opt(&cfg)
	}

	plan, err := PlanUpload(modules)
	if err != nil {
		return nil, err
	}
	if cfg.hasSlot && (cfg.slot < ModeSlotMin || cfg.slot > ModeSlotMax) {
		return nil, fmt.Errorf("device: mode slot 0x%02X outside 0x%02X-0x%02X", cfg.slot, ModeSlotMin, ModeSlotMax)
	}

	top, err := d.Peek(ctx, TopModeRegister)
	if err != nil {
		return nil, fmt.Errorf("device: read top mode: %w", err)
	}
	slot := cfg.slot
	if !cfg.hasSlot {
		slot = min(max(top+1, ModeSlotMin), ModeSlotMax)
	}

	d.logger.Info("uploading program",
		slog.Int("modules", len(plan.Modules)),
		slog.Int("bytes", plan.Size),
		slog.String("slot", fmt.Sprintf("0x%02X", slot)))

	total := plan.Instructions()
	done := 0
	for m, module := range plan.Modules {
		cursor := plan.Starts[m]
		if len(module) == 0 {
			if err := d.Poke(ctx, cursor, isa.EndOfModule); err != nil {
				return nil, fmt.Errorf("device: write module %d: %w", m, err)
			}
		}
		for i, encoded := range module {
			data := append(append([]byte(nil), encoded...), isa.EndOfModule)
			if err := d.Poke(ctx, cursor, data...); err != nil {
				return nil, fmt.Errorf("device: write module %d instruction %d: %w", m, i, err)
			}
			cursor += uint16(len(encoded))
			done++
			if cfg.progress != nil {
				cfg.progress(done, total)
			}
		}

		offset := byte(plan.Starts[m] - ScratchpadStart)
		if err := d.Poke(ctx, PointerTable+uint16(m), offset); err != nil {
			return nil, fmt.Errorf("device: write pointer for module %d: %w", m, err)
		}
	}

	if err := d.activate(ctx, slot, top, cfg.settleDelay); err != nil {
		return nil, err
	}

	d.logger.Info("program started", slog.String("slot", fmt.Sprintf("0x%02X", slot)))
	return &UploadResult{Plan: plan, Slot: slot}, nil
}

// activate points slot at the first scratchpad module and switches to it.
func (d *Device) activate(ctx context.Context, slot, top byte, settle time.Duration) error {
	vector := uint16(StartVectorBase) + uint16(slot-ModeSlotMin)
	if err := d.Poke(ctx, vector, ScratchpadModule); err != nil {
		return fmt.Errorf("device: repoint mode 0x%02X: %w", slot, err)
	}
	if top < slot {
		if err := d.Poke(ctx, TopModeRegister, slot); err != nil {
			return fmt.Errorf("device: raise top mode: %w", err)
		}
	}
	if err := d.Poke(ctx, ModeRegister, slot); err != nil {
		return fmt.Errorf("device: select mode: %w", err)
	}
	for _, cmd := range modeSwitch {
		if err := d.Poke(ctx, BoxCommandRegister, cmd); err != nil {
			return fmt.Errorf("device: box command 0x%02X: %w", cmd, err)
		}
		if err := sleep(ctx, settle); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

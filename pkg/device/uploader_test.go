// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/Thermoquad/stimlink/pkg/isa"
)

var twoModules = [][]isa.Instruction{
	{isa.Set{Address: 0x098, Value: 0x50}, isa.Store{Address: 0x0A0}},
	{isa.Add{Address: 0x0A0, Value: 0x05}},
}

// ============================================================
// Plan Tests
// ============================================================

func TestPlanUpload(t *testing.T) {
	plan, err := PlanUpload(twoModules)
	if err != nil {
		t.Fatalf("PlanUpload error: %v", err)
	}
	if plan.Size != 9 {
		t.Errorf("Size = %d, want 9", plan.Size)
	}
	if len(plan.Starts) != 2 || plan.Starts[0] != 0x40C0 || plan.Starts[1] != 0x40C5 {
		t.Errorf("Starts = %04X, want [40C0 40C5]", plan.Starts)
	}
	if plan.Instructions() != 3 {
		t.Errorf("Instructions() = %d, want 3", plan.Instructions())
	}
}

func TestPlanUpload_Empty(t *testing.T) {
	plan, err := PlanUpload(nil)
	if err != nil {
		t.Fatalf("PlanUpload error: %v", err)
	}
	if plan.Size != 1 || len(plan.Modules) != 1 || len(plan.Modules[0]) != 0 {
		t.Errorf("empty plan = %s", spew.Sdump(plan))
	}
}

func TestPlanUpload_Capacity(t *testing.T) {
	// 62 three-byte and 2 two-byte instructions plus the terminator fill
	// the scratchpad exactly
	full := make([]isa.Instruction, 62)
	for i := range full {
		full[i] = isa.Add{Address: 0x0A0, Value: 1}
	}
	full = append(full, isa.Store{Address: 0x0A0}, isa.Load{Address: 0x0A1})
	plan, err := PlanUpload([][]isa.Instruction{full})
	if err != nil {
		t.Fatalf("191-byte program rejected: %v", err)
	}
	if plan.Size != ScratchpadSize {
		t.Fatalf("Size = %d, want %d", plan.Size, ScratchpadSize)
	}

	over := append(append([]isa.Instruction(nil), full...), isa.Div2{Address: 0x0A0})
	_, err = PlanUpload([][]isa.Instruction{over})
	var ce *CapacityError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *CapacityError", err)
	}
	if ce.Need != ScratchpadSize+2 || ce.Have != ScratchpadSize {
		t.Errorf("CapacityError = %+v", ce)
	}
}

func TestPlanUpload_TooManyModules(t *testing.T) {
	modules := make([][]isa.Instruction, MaxModules+1)
	_, err := PlanUpload(modules)
	var ce *CapacityError
	if !errors.As(err, &ce) || ce.What != "modules" {
		t.Errorf("error = %v, want modules *CapacityError", err)
	}
}

// ============================================================
// Upload Tests
// ============================================================

func TestUploadProgram(t *testing.T) {
	fake := newFakeDevice()
	fake.mem[TopModeRegister] = 0x87
	dev := newTestDevice(t, fake)

	var progress [][2]int
	res, err := dev.UploadProgram(testContext(t), twoModules,
		WithSettleDelay(0),
		WithProgress(func(done, total int) { progress = append(progress, [2]int{done, total}) }))
	if err != nil {
		t.Fatalf("UploadProgram error: %v", err)
	}
	if res.Slot != 0x88 {
		t.Errorf("Slot = 0x%02X, want 0x88", res.Slot)
	}

	want := []pokeRecord{
		{0x40C0, []byte{0x98, 0x50, 0x00}},
		{0x40C2, []byte{0x40, 0xA0, 0x00}},
		{PointerTable, []byte{0x00}},
		{0x40C5, []byte{0x50, 0xA0, 0x05, 0x00}},
		{PointerTable + 1, []byte{0x05}},
		{StartVectorBase, []byte{ScratchpadModule}},
		{TopModeRegister, []byte{0x88}},
		{ModeRegister, []byte{0x88}},
		{BoxCommandRegister, []byte{0x04}},
		{BoxCommandRegister, []byte{0x12}},
	}
	_, _, pokes := fake.snapshot()
	if !samePokes(pokes, want) {
		t.Fatalf("poke sequence mismatch\ngot:  %s\nwant: %s", spew.Sdump(pokes), spew.Sdump(want))
	}

	scratch := make([]byte, 9)
	for i := range scratch {
		scratch[i] = fake.memAt(ScratchpadStart + uint16(i))
	}
	if want := []byte{0x98, 0x50, 0x40, 0xA0, 0x00, 0x50, 0xA0, 0x05, 0x00}; !bytes.Equal(scratch, want) {
		t.Errorf("scratchpad = % X, want % X", scratch, want)
	}

	wantProgress := [][2]int{{1, 3}, {2, 3}, {3, 3}}
	if len(progress) != len(wantProgress) {
		t.Fatalf("progress = %v, want %v", progress, wantProgress)
	}
	for i := range wantProgress {
		if progress[i] != wantProgress[i] {
			t.Errorf("progress = %v, want %v", progress, wantProgress)
			break
		}
	}
}

func samePokes(got, want []pokeRecord) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i].addr != want[i].addr || !bytes.Equal(got[i].data, want[i].data) {
			return false
		}
	}
	return true
}

func TestUploadProgram_SlotSelection(t *testing.T) {
	tests := []struct {
		name      string
		top       byte
		opts      []UploadOption
		wantSlot  byte
		wantRaise bool
	}{
		{"above factory modes", 0x10, nil, 0x88, true},
		{"next free slot", 0x8A, nil, 0x8B, true},
		{"clamped at the last slot", 0x8E, nil, 0x8E, false},
		{"explicit slot below top", 0x8C, []UploadOption{WithSlot(0x8A)}, 0x8A, false},
		{"explicit slot above top", 0x87, []UploadOption{WithSlot(0x8D)}, 0x8D, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake := newFakeDevice()
			fake.mem[TopModeRegister] = tc.top
			dev := newTestDevice(t, fake)

			opts := append([]UploadOption{WithSettleDelay(0)}, tc.opts...)
			res, err := dev.UploadProgram(testContext(t), nil, opts...)
			if err != nil {
				t.Fatalf("UploadProgram error: %v", err)
			}
			if res.Slot != tc.wantSlot {
				t.Errorf("Slot = 0x%02X, want 0x%02X", res.Slot, tc.wantSlot)
			}

			vector := StartVectorBase + uint16(tc.wantSlot-ModeSlotMin)
			if got := fake.memAt(vector); got != ScratchpadModule {
				t.Errorf("start vector 0x%04X = 0x%02X, want 0x%02X", vector, got, ScratchpadModule)
			}

			raised := false
			_, _, pokes := fake.snapshot()
			for _, p := range pokes {
				if p.addr == TopModeRegister {
					raised = true
				}
			}
			if raised != tc.wantRaise {
				t.Errorf("top mode raised = %v, want %v", raised, tc.wantRaise)
			}
		})
	}
}

func TestUploadProgram_EmptyProgram(t *testing.T) {
	fake := newFakeDevice()
	fake.mem[ScratchpadStart] = 0xAA
	dev := newTestDevice(t, fake)

	res, err := dev.UploadProgram(testContext(t), nil, WithSettleDelay(0))
	if err != nil {
		t.Fatalf("UploadProgram error: %v", err)
	}
	if got := fake.memAt(ScratchpadStart); got != 0x00 {
		t.Errorf("scratchpad[0] = 0x%02X, want terminator", got)
	}
	if res.Plan.Size != 1 {
		t.Errorf("Plan.Size = %d, want 1", res.Plan.Size)
	}
}

// TestUploadProgram_ValidatesBeforeWriting checks that nothing reaches the
// device when the program is rejected.
func TestUploadProgram_ValidatesBeforeWriting(t *testing.T) {
	oversized := make([]isa.Instruction, 64)
	for i := range oversized {
		oversized[i] = isa.Add{Address: 0x0A0, Value: 1}
	}

	tests := []struct {
		name    string
		modules [][]isa.Instruction
		opts    []UploadOption
		check   func(error) bool
	}{
		{
			name:    "over capacity",
			modules: [][]isa.Instruction{oversized},
			check: func(err error) bool {
				var ce *CapacityError
				return errors.As(err, &ce)
			},
		},
		{
			name:    "unencodable",
			modules: [][]isa.Instruction{{isa.Store{Address: 0x0A0}, isa.Set{Address: 0x050}}},
			check: func(err error) bool {
				var ee *isa.EncodeError
				return errors.As(err, &ee)
			},
		},
		{
			name:    "bad slot",
			modules: twoModules,
			opts:    []UploadOption{WithSlot(0x80)},
			check:   func(err error) bool { return err != nil },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake := newFakeDevice()
			dev := newTestDevice(t, fake)

			_, err := dev.UploadProgram(testContext(t), tc.modules, tc.opts...)
			if !tc.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
			if frames, _, _ := fake.snapshot(); frames != 0 {
				t.Errorf("device saw %d frames before the program was rejected", frames)
			}
		})
	}
}

func TestUploadProgram_Rejected(t *testing.T) {
	fake := newFakeDevice()
	fake.readOnly[0x40C2] = true
	dev := newTestDevice(t, fake)

	_, err := dev.UploadProgram(testContext(t), twoModules, WithSettleDelay(0))
	var we *WriteRejectedError
	if !errors.As(err, &we) || we.Address != 0x40C2 {
		t.Fatalf("error = %v, want *WriteRejectedError at 0x40C2", err)
	}
	// The first instruction is already in place, terminated
	if got := fake.memAt(0x40C2); got != 0x00 {
		t.Errorf("byte after first instruction = 0x%02X, want terminator", got)
	}
}

func TestUploadProgram_SettleHonoursContext(t *testing.T) {
	fake := newFakeDevice()
	dev := newTestDevice(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := dev.UploadProgram(ctx, twoModules, WithSettleDelay(time.Hour))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package snapshot

import (
	"bytes"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/stimlink/pkg/isa"
)

func TestSaveLoad(t *testing.T) {
	s := New("/dev/ttyUSB0")
	s.Add(0x4000, []byte{0x01, 0x02, 0x03})
	s.Add(0x40C0, []byte{0x98, 0x50, 0x00})

	path := filepath.Join(t.TempDir(), "dump.cbor")
	if err := s.Save(path); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if got.Source != s.Source || !got.Taken.Equal(s.Taken) {
		t.Errorf("header mismatch: got %q %v, want %q %v", got.Source, got.Taken, s.Source, s.Taken)
	}
	if !reflect.DeepEqual(got.Ranges, s.Ranges) {
		t.Errorf("ranges mismatch\ngot:  %s\nwant: %s", spew.Sdump(got.Ranges), spew.Sdump(s.Ranges))
	}
}

func TestRegisters(t *testing.T) {
	s := New("")
	s.Add(0x4085, []byte{isa.SelectBoth})
	s.Add(0x40A0, []byte{0x10, 0x20})
	s.Add(0x40A1, []byte{0x21})

	regs := s.Registers()
	want := isa.Registers{0x4085: isa.SelectBoth, 0x40A0: 0x10, 0x40A1: 0x21}
	if !reflect.DeepEqual(regs, want) {
		t.Errorf("Registers() = %s, want %s", spew.Sdump(regs), spew.Sdump(want))
	}
}

func TestFromRegisters(t *testing.T) {
	regs := isa.Registers{0x40A2: 3, 0x40A0: 1, 0x40A1: 2, 0x4085: 9}
	s := FromRegisters("sim", regs)

	want := []Range{
		{Start: 0x4085, Data: []byte{9}},
		{Start: 0x40A0, Data: []byte{1, 2, 3}},
	}
	if !reflect.DeepEqual(s.Ranges, want) {
		t.Errorf("ranges = %s, want %s", spew.Sdump(s.Ranges), spew.Sdump(want))
	}
	if !reflect.DeepEqual(s.Registers(), regs) {
		t.Error("Registers() does not reproduce the source register file")
	}
}

func TestRead_Rejects(t *testing.T) {
	var buf bytes.Buffer
	bad := New("")
	bad.Version = 99
	if err := bad.Write(&buf); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(&buf); !errors.Is(err, ErrVersion) {
		t.Errorf("error = %v, want ErrVersion", err)
	}

	overrun, err := cbor.Marshal(Snapshot{Version: Version, Ranges: []Range{{Start: 0xFFFF, Data: []byte{1, 2}}}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Read(bytes.NewReader(overrun)); err == nil {
		t.Error("overrunning range accepted")
	}

	if _, err := Read(bytes.NewReader([]byte{0xFF, 0x00})); err == nil {
		t.Error("garbage accepted")
	}
}

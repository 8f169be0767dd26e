// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package snapshot stores captured device memory as CBOR files. A snapshot
// taken with the dump command can seed the module simulator.
package snapshot

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/stimlink/pkg/isa"
)

// Version is the snapshot format written by this package.
const Version = 1

// ErrVersion is returned when reading a snapshot in an unknown format.
var ErrVersion = errors.New("snapshot: unsupported version")

// Snapshot is a set of memory ranges read from a device.
type Snapshot struct {
	Version uint      `cbor:"1,keyasint"`
	Taken   time.Time `cbor:"2,keyasint"`
	Source  string    `cbor:"3,keyasint,omitempty"`
	Ranges  []Range   `cbor:"4,keyasint"`
}

// Range is a run of consecutive bytes starting at Start.
type Range struct {
	Start uint16 `cbor:"1,keyasint"`
	Data  []byte `cbor:"2,keyasint"`
}

// End returns the address one past the last byte of r.
func (r Range) End() int {
	return int(r.Start) + len(r.Data)
}

var encMode = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	mode, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// New returns an empty snapshot taken now.
func New(source string) *Snapshot {
	return &Snapshot{Version: Version, Taken: time.Now().UTC(), Source: source}
}

// Add records data read from start.
func (s *Snapshot) Add(start uint16, data []byte) {
	s.Ranges = append(s.Ranges, Range{Start: start, Data: append([]byte(nil), data...)})
}

// Registers flattens the snapshot into a register file. Later ranges
// overwrite earlier ones where they overlap.
func (s *Snapshot) Registers() isa.Registers {
	regs := make(isa.Registers)
	for _, r := range s.Ranges {
		for i, v := range r.Data {
			regs[r.Start+uint16(i)] = v
		}
	}
	return regs
}

// FromRegisters builds a snapshot from a register file, merging adjacent
// addresses into ranges.
func FromRegisters(source string, regs isa.Registers) *Snapshot {
	s := New(source)
	addrs := make([]uint16, 0, len(regs))
	for addr := range regs {
		addrs = append(addrs, addr)
	}
	slices.Sort(addrs)

	for _, addr := range addrs {
		if n := len(s.Ranges); n > 0 && s.Ranges[n-1].End() == int(addr) {
			s.Ranges[n-1].Data = append(s.Ranges[n-1].Data, regs[addr])
			continue
		}
		s.Ranges = append(s.Ranges, Range{Start: addr, Data: []byte{regs[addr]}})
	}
	return s
}

// Write encodes s to w.
func (s *Snapshot) Write(w io.Writer) error {
	if err := encMode.NewEncoder(w).Encode(s); err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	return nil
}

// Read decodes a snapshot from r.
func Read(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	if s.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, s.Version)
	}
	for i, rg := range s.Ranges {
		if rg.End() > 0x10000 {
			return nil, fmt.Errorf("snapshot: range %d at 0x%04X overruns the address space", i, rg.Start)
		}
	}
	return &s, nil
}

// Save writes s to path.
func (s *Snapshot) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := s.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads a snapshot from path.
func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

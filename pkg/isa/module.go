// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package isa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
)

// ByteSource yields the bytes of a module one at a time. NextByte returns
// io.EOF when no bytes remain.
type ByteSource interface {
	NextByte(ctx context.Context) (byte, error)
}

// ByteSourceFunc adapts a function to a ByteSource.
type ByteSourceFunc func(ctx context.Context) (byte, error)

// NextByte calls f.
func (f ByteSourceFunc) NextByte(ctx context.Context) (byte, error) {
	return f(ctx)
}

// ReaderSource adapts an io.ByteReader to a ByteSource.
func ReaderSource(r io.ByteReader) ByteSource {
	return ByteSourceFunc(func(ctx context.Context) (byte, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return r.ReadByte()
	})
}

// ParseModule splits data into encoded instructions. Each yielded slice
// aliases data and holds exactly one instruction. Iteration stops without an
// error at an end-of-module opcode or at the end of data; a trailing partial
// instruction yields ErrTruncated, an undecodable opcode a *DecodeError.
//
// The sequence can be ranged over any number of times.
func ParseModule(data []byte) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		offset := 0
		for offset < len(data) {
			n, err := InstructionLength(data[offset])
			if err != nil {
				yield(nil, withOffset(err, offset))
				return
			}
			if n == 0 {
				return
			}
			if offset+n > len(data) {
				yield(nil, fmt.Errorf("%w: opcode 0x%02X at offset %d needs %d bytes, have %d",
					ErrTruncated, data[offset], offset, n, len(data)-offset))
				return
			}
			if !yield(data[offset:offset+n], nil) {
				return
			}
			offset += n
		}
	}
}

// StreamModule is ParseModule over a ByteSource, fetching one byte per call
// to NextByte. Each yielded slice is freshly allocated.
func StreamModule(ctx context.Context, src ByteSource) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		offset := 0
		for {
			opcode, err := src.NextByte(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}

			n, err := InstructionLength(opcode)
			if err != nil {
				yield(nil, withOffset(err, offset))
				return
			}
			if n == 0 {
				return
			}

			buf := make([]byte, 1, n)
			buf[0] = opcode
			for len(buf) < n {
				b, err := src.NextByte(ctx)
				if errors.Is(err, io.EOF) {
					yield(nil, fmt.Errorf("%w: opcode 0x%02X at offset %d needs %d bytes, have %d",
						ErrTruncated, opcode, offset, n, len(buf)))
					return
				}
				if err != nil {
					yield(nil, err)
					return
				}
				buf = append(buf, b)
			}

			if !yield(buf, nil) {
				return
			}
			offset += n
		}
	}
}

// DecodeModule parses and decodes a whole module.
func DecodeModule(data []byte) ([]Instruction, error) {
	return collect(ParseModule(data))
}

// CollectModule streams and decodes a whole module from src.
func CollectModule(ctx context.Context, src ByteSource) ([]Instruction, error) {
	return collect(StreamModule(ctx, src))
}

func collect(seq iter.Seq2[[]byte, error]) ([]Instruction, error) {
	var module []Instruction
	offset := 0
	for raw, err := range seq {
		if err != nil {
			return module, err
		}
		instr, err := Decode(raw)
		if err != nil {
			return module, withOffset(err, offset)
		}
		module = append(module, instr)
		offset += len(raw)
	}
	return module, nil
}

// EncodeModule encodes every instruction and appends the end-of-module
// terminator.
func EncodeModule(module []Instruction) ([]byte, error) {
	var out []byte
	for i, instr := range module {
		b, err := Encode(instr)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		out = append(out, b...)
	}
	return append(out, EndOfModule), nil
}

// EncodedSize returns the length of EncodeModule(module), terminator
// included.
func EncodedSize(module []Instruction) (int, error) {
	size := 1
	for i, instr := range module {
		n, err := EncodedLength(instr)
		if err != nil {
			return 0, fmt.Errorf("instruction %d: %w", i, err)
		}
		size += n
	}
	return size, nil
}

func withOffset(err error, offset int) error {
	var de *DecodeError
	if errors.As(err, &de) && de.Offset < 0 {
		located := *de
		located.Offset = offset
		return &located
	}
	return err
}

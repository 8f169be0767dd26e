// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package isa

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when a module ends in the middle of an
	// instruction.
	ErrTruncated = errors.New("isa: ran out of bytes mid-instruction")

	// ErrEndOfModule is returned by Decode for an end-of-module opcode.
	ErrEndOfModule = errors.New("isa: end-of-module opcode")
)

// DecodeError reports an opcode that does not match any instruction pattern.
type DecodeError struct {
	Opcode byte
	Offset int // position of the opcode within the parsed stream, -1 if unknown
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("isa: cannot decode opcode 0x%02X at offset %d: %s", e.Opcode, e.Offset, e.Reason)
	}
	return fmt.Sprintf("isa: cannot decode opcode 0x%02X: %s", e.Opcode, e.Reason)
}

// EncodeError reports an instruction whose operands are out of range.
type EncodeError struct {
	Instr  Instruction
	Reason string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("isa: cannot encode %q: %s", e.Instr, e.Reason)
}

// UnsupportedError is returned by the simulator for behavior it does not
// model, such as the control transfer of a matching condexec.
type UnsupportedError struct {
	Instr  Instruction
	Reason string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("isa: cannot simulate %q: %s", e.Instr, e.Reason)
}

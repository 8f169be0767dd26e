// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package isa

import "fmt"

var memoryOps = [4]Op{OpStore, OpLoad, OpDiv2, OpRand}
var aluOps = [4]Op{OpAdd, OpAnd, OpOr, OpXor}

// InstructionLength returns the total encoded length of the instruction that
// starts with opcode, computed from the opcode alone. End-of-module opcodes
// have length 0.
func InstructionLength(opcode byte) (int, error) {
	switch {
	case opcode&setFlag != 0:
		return 2, nil
	case opcode&classMask3 == classEnd:
		return 0, nil
	case opcode&classMask3 == classCopy:
		return 2 + int(opcode&copyCountMask)>>copyCountShift, nil
	case opcode&classMask4 == classMemory:
		return 2, nil
	case opcode&classMask4 == classALU:
		return 3, nil
	case opcode&classMask5 == classReserve:
		return 0, &DecodeError{Opcode: opcode, Offset: -1, Reason: "reserved opcode"}
	case opcode&condFlag != 0:
		return 2, nil
	default:
		return 0, &DecodeError{Opcode: opcode, Offset: -1, Reason: "unknown opcode pattern"}
	}
}

// Decode decodes one instruction. b must hold exactly the bytes of the
// instruction, as returned by ParseModule.
func Decode(b []byte) (Instruction, error) {
	if len(b) == 0 {
		return nil, ErrTruncated
	}

	opcode := b[0]
	n, err := InstructionLength(opcode)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrEndOfModule
	}
	if len(b) < n {
		return nil, fmt.Errorf("%w: opcode 0x%02X needs %d bytes, have %d", ErrTruncated, opcode, n, len(b))
	}
	if len(b) > n {
		return nil, &DecodeError{Opcode: opcode, Offset: -1, Reason: fmt.Sprintf("instruction is %d bytes, given %d", n, len(b))}
	}

	addr := uint16(opcode&addrHighMask)<<8 | uint16(b[1])
	selector := (opcode & selectorMask) >> selectorShift

	switch {
	case opcode&setFlag != 0:
		target := uint16(SetAddressMin) + uint16(opcode&setOffsetMask)
		if opcode&setBankB != 0 {
			target += SetBankBBit
		}
		return Set{Address: target, Value: b[1]}, nil

	case opcode&classMask3 == classCopy:
		values := make([]byte, n-2)
		copy(values, b[2:])
		return Copy{Address: addr, Values: values}, nil

	case opcode&classMask4 == classMemory:
		return New(memoryOps[selector], addr, 0, nil)

	case opcode&classMask4 == classALU:
		return New(aluOps[selector], addr, b[2], nil)

	case opcode&condFlag != 0:
		if selector != 0 {
			return nil, &DecodeError{Opcode: opcode, Offset: -1, Reason: "condexec with nonzero selector bits"}
		}
		return CondExec{Address: addr}, nil

	default:
		return nil, &DecodeError{Opcode: opcode, Offset: -1, Reason: "unknown opcode pattern"}
	}
}

// Encode encodes one instruction. It rejects addresses wider than 10 bits,
// copies with more than seven values, and set addresses outside 0x80-0xBF
// (plus the channel B bit).
func Encode(instr Instruction) ([]byte, error) {
	switch i := instr.(type) {
	case Set:
		high, low := i.Address>>8, i.Address&0xFF
		if high > 1 {
			return nil, &EncodeError{Instr: instr, Reason: "set high bits must be 0 or 1"}
		}
		if low < SetAddressMin || low > SetAddressMax {
			return nil, &EncodeError{Instr: instr, Reason: fmt.Sprintf("set address must be 0x%02X-0x%02X", SetAddressMin, SetAddressMax)}
		}
		opcode := byte(setFlag) | byte(low-SetAddressMin)
		if high == 1 {
			opcode |= setBankB
		}
		return []byte{opcode, i.Value}, nil

	case Copy:
		if err := checkAddress(instr); err != nil {
			return nil, err
		}
		if len(i.Values) > MaxCopyValues {
			return nil, &EncodeError{Instr: instr, Reason: fmt.Sprintf("copy takes at most %d values, got %d", MaxCopyValues, len(i.Values))}
		}
		opcode := byte(classCopy) | byte(len(i.Values))<<copyCountShift | byte(i.Address>>8)
		out := make([]byte, 0, 2+len(i.Values))
		out = append(out, opcode, byte(i.Address))
		return append(out, i.Values...), nil

	case Store, Load, Div2, Rand:
		if err := checkAddress(instr); err != nil {
			return nil, err
		}
		opcode := byte(classMemory) | selectorOf(memoryOps, instr.Op())<<selectorShift | byte(instr.Target()>>8)
		return []byte{opcode, byte(instr.Target())}, nil

	case Add:
		return encodeALU(instr, i.Value)
	case And:
		return encodeALU(instr, i.Value)
	case Or:
		return encodeALU(instr, i.Value)
	case Xor:
		return encodeALU(instr, i.Value)

	case CondExec:
		if err := checkAddress(instr); err != nil {
			return nil, err
		}
		return []byte{condPattern | byte(i.Address>>8), byte(i.Address)}, nil

	default:
		return nil, fmt.Errorf("isa: cannot encode %T", instr)
	}
}

func encodeALU(instr Instruction, value byte) ([]byte, error) {
	if err := checkAddress(instr); err != nil {
		return nil, err
	}
	opcode := byte(classALU) | selectorOf(aluOps, instr.Op())<<selectorShift | byte(instr.Target()>>8)
	return []byte{opcode, byte(instr.Target()), value}, nil
}

func checkAddress(instr Instruction) error {
	if instr.Target() > MaxAddress {
		return &EncodeError{Instr: instr, Reason: fmt.Sprintf("address 0x%X exceeds 0x%03X", instr.Target(), MaxAddress)}
	}
	return nil
}

func selectorOf(table [4]Op, op Op) byte {
	for i, candidate := range table {
		if candidate == op {
			return byte(i)
		}
	}
	panic(fmt.Sprintf("isa: op %v not in selector table", op))
}

// EncodedLength returns the encoded length of instr without allocating.
func EncodedLength(instr Instruction) (int, error) {
	b, err := Encode(instr)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

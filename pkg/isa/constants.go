// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package isa implements the controller's module bytecode: a compact,
// variable-length instruction set the device interprets to manipulate its own
// memory-mapped registers.
//
// Every instruction starts with an opcode byte whose high bits select the
// instruction and, for most instructions, carry the top two bits of a 10-bit
// address relative to the start of RAM:
//
//	1baaaaaa vvvvvvvv                   set       (a: offset from 0x80, b: channel B)
//	001nnnaa aaaaaaaa [n value bytes]   copy
//	0100ssaa aaaaaaaa                   store, load, div2, rand
//	0101ssaa aaaaaaaa vvvvvvvv          add, and, or, xor
//	01100xxx                            reserved
//	011100aa aaaaaaaa                   condexec
//	000xxxxx                            end of module
//
// A module is a sequence of instructions ended by an end-of-module opcode
// (0x00 is canonical) or by the end of the available bytes.
package isa

// Opcode layout
const (
	setFlag       = 0x80 // 1xxxxxxx
	setBankB      = 0x40 // channel B bit of a set opcode
	setOffsetMask = 0x3F

	classMask3   = 0xE0 // top three bits
	classEnd     = 0x00 // 000xxxxx
	classCopy    = 0x20 // 001xxxxx
	classMask4   = 0xF0 // top four bits
	classMemory  = 0x40 // 0100xxxx
	classALU     = 0x50 // 0101xxxx
	classMask5   = 0xF8 // top five bits
	classReserve = 0x60 // 01100xxx
	condFlag     = 0x10 // 0111xxxx
	condPattern  = 0x70

	copyCountMask  = 0x1C
	copyCountShift = 2
	selectorMask   = 0x0C
	selectorShift  = 2
	addrHighMask   = 0x03
)

// Operand limits
const (
	MaxAddress    = 0x3FF // 10-bit instruction address
	MaxCopyValues = 7

	SetAddressMin = 0x80
	SetAddressMax = 0xBF
	SetBankBBit   = 0x100 // added to a set address when the channel B bit is set

	// MaxInstructionLength is the longest encoding: a copy with seven values
	MaxInstructionLength = 2 + MaxCopyValues
)

// EndOfModule is the canonical module terminator byte.
const EndOfModule = 0x00

// Memory layout seen by the simulator. Instruction addresses are offsets
// from RAMBase; channel B's copy of the per-channel window lives
// ChannelBOffset higher.
const (
	RAMBase        = 0x4000
	ChannelBOffset = 0x100

	// ChannelSelectOffset holds the channels a module applies to
	ChannelSelectOffset = 0x85
	SelectA             = 0x01
	SelectB             = 0x02
	SelectBoth          = SelectA | SelectB

	// Offsets 0x8C-0xBF are the temporary store shared by module code and
	// mirrored per channel.
	TempStoreStart = 0x8C
	TempStoreEnd   = 0xBF

	BankOffset    = 0x8C // per-channel bank cell used by store/load/condexec
	RandMinOffset = 0x8D // per-channel lower bound for rand
	RandMaxOffset = 0x8E // per-channel upper bound for rand
)

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package isa

import (
	"bytes"
	"fmt"
	"strings"
)

// Op identifies an instruction kind.
type Op uint8

const (
	OpSet Op = iota + 1
	OpCopy
	OpStore
	OpLoad
	OpDiv2
	OpRand
	OpCondExec
	OpAdd
	OpAnd
	OpOr
	OpXor
)

// AllOps lists every instruction kind in opcode order.
var AllOps = []Op{
	OpSet, OpCopy,
	OpStore, OpLoad, OpDiv2, OpRand,
	OpCondExec,
	OpAdd, OpAnd, OpOr, OpXor,
}

var opNames = map[Op]string{
	OpSet:      "set",
	OpCopy:     "copy",
	OpStore:    "store",
	OpLoad:     "load",
	OpDiv2:     "div2",
	OpRand:     "rand",
	OpCondExec: "condexec",
	OpAdd:      "add",
	OpAnd:      "and",
	OpOr:       "or",
	OpXor:      "xor",
}

// String returns the assembly mnemonic for the op.
func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// ParseOp returns the op for an assembly mnemonic.
func ParseOp(mnemonic string) (Op, bool) {
	mnemonic = strings.ToLower(mnemonic)
	for op, name := range opNames {
		if name == mnemonic {
			return op, true
		}
	}
	return 0, false
}

// Instruction is one decoded module instruction. The set of implementations
// is closed: Set, Copy, Store, Load, Div2, Rand, CondExec, Add, And, Or and
// Xor.
type Instruction interface {
	// Op returns the instruction kind
	Op() Op

	// Target returns the address operand
	Target() uint16

	// String returns the instruction in assembly syntax
	String() string

	instruction()
}

// Set writes Value to Address. Address is 0x80-0xBF, or 0x180-0x1BF to
// force channel B.
type Set struct {
	Address uint16
	Value   byte
}

// Copy writes Values to consecutive addresses starting at Address.
type Copy struct {
	Address uint16
	Values  []byte
}

// Store copies the byte at Address into the bank cell.
type Store struct{ Address uint16 }

// Load copies the bank cell into Address.
type Load struct{ Address uint16 }

// Div2 halves the byte at Address.
type Div2 struct{ Address uint16 }

// Rand writes a random value between the channel's rand bounds to Address.
type Rand struct{ Address uint16 }

// CondExec compares the byte at Address with the bank cell; on a match the
// device transfers control to another module.
type CondExec struct{ Address uint16 }

// Add adds Value to the byte at Address, wrapping at 256.
type Add struct {
	Address uint16
	Value   byte
}

// And masks the byte at Address with Value.
type And struct {
	Address uint16
	Value   byte
}

// Or sets the bits of Value in the byte at Address.
type Or struct {
	Address uint16
	Value   byte
}

// Xor toggles the bits of Value in the byte at Address.
type Xor struct {
	Address uint16
	Value   byte
}

func (Set) Op() Op      { return OpSet }
func (Copy) Op() Op     { return OpCopy }
func (Store) Op() Op    { return OpStore }
func (Load) Op() Op     { return OpLoad }
func (Div2) Op() Op     { return OpDiv2 }
func (Rand) Op() Op     { return OpRand }
func (CondExec) Op() Op { return OpCondExec }
func (Add) Op() Op      { return OpAdd }
func (And) Op() Op      { return OpAnd }
func (Or) Op() Op       { return OpOr }
func (Xor) Op() Op      { return OpXor }

func (i Set) Target() uint16      { return i.Address }
func (i Copy) Target() uint16     { return i.Address }
func (i Store) Target() uint16    { return i.Address }
func (i Load) Target() uint16     { return i.Address }
func (i Div2) Target() uint16     { return i.Address }
func (i Rand) Target() uint16     { return i.Address }
func (i CondExec) Target() uint16 { return i.Address }
func (i Add) Target() uint16      { return i.Address }
func (i And) Target() uint16      { return i.Address }
func (i Or) Target() uint16       { return i.Address }
func (i Xor) Target() uint16      { return i.Address }

func (Set) instruction()      {}
func (Copy) instruction()     {}
func (Store) instruction()    {}
func (Load) instruction()     {}
func (Div2) instruction()     {}
func (Rand) instruction()     {}
func (CondExec) instruction() {}
func (Add) instruction()      {}
func (And) instruction()      {}
func (Or) instruction()       {}
func (Xor) instruction()      {}

func (i Set) String() string      { return formatWithValue(OpSet, i.Address, i.Value) }
func (i Store) String() string    { return formatAddress(OpStore, i.Address) }
func (i Load) String() string     { return formatAddress(OpLoad, i.Address) }
func (i Div2) String() string     { return formatAddress(OpDiv2, i.Address) }
func (i Rand) String() string     { return formatAddress(OpRand, i.Address) }
func (i CondExec) String() string { return formatAddress(OpCondExec, i.Address) }
func (i Add) String() string      { return formatWithValue(OpAdd, i.Address, i.Value) }
func (i And) String() string      { return formatWithValue(OpAnd, i.Address, i.Value) }
func (i Or) String() string       { return formatWithValue(OpOr, i.Address, i.Value) }
func (i Xor) String() string      { return formatWithValue(OpXor, i.Address, i.Value) }

func (i Copy) String() string {
	var b strings.Builder
	b.WriteString(formatAddress(OpCopy, i.Address))
	for _, v := range i.Values {
		fmt.Fprintf(&b, " 0x%02X", v)
	}
	return b.String()
}

func formatAddress(op Op, addr uint16) string {
	return fmt.Sprintf("%s 0x%03X", op, addr)
}

func formatWithValue(op Op, addr uint16, value byte) string {
	return fmt.Sprintf("%s 0x%03X 0x%02X", op, addr, value)
}

// New builds an instruction of the given kind. value is ignored by kinds
// without a value operand; values is only used by OpCopy.
func New(op Op, addr uint16, value byte, values []byte) (Instruction, error) {
	switch op {
	case OpSet:
		return Set{Address: addr, Value: value}, nil
	case OpCopy:
		return Copy{Address: addr, Values: values}, nil
	case OpStore:
		return Store{Address: addr}, nil
	case OpLoad:
		return Load{Address: addr}, nil
	case OpDiv2:
		return Div2{Address: addr}, nil
	case OpRand:
		return Rand{Address: addr}, nil
	case OpCondExec:
		return CondExec{Address: addr}, nil
	case OpAdd:
		return Add{Address: addr, Value: value}, nil
	case OpAnd:
		return And{Address: addr, Value: value}, nil
	case OpOr:
		return Or{Address: addr, Value: value}, nil
	case OpXor:
		return Xor{Address: addr, Value: value}, nil
	default:
		return nil, fmt.Errorf("isa: unknown op %v", op)
	}
}

// Equal reports whether a and b are the same instruction. A Copy with nil
// Values equals one with an empty slice.
func Equal(a, b Instruction) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ca, aok := a.(Copy)
	cb, bok := b.(Copy)
	if aok || bok {
		return aok && bok && ca.Address == cb.Address && bytes.Equal(ca.Values, cb.Values)
	}
	return a == b
}

// EqualModules reports whether two modules hold the same instructions.
func EqualModules(a, b []Instruction) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

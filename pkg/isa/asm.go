// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package isa

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// AssemblyError reports a line of assembly text that could not be parsed.
type AssemblyError struct {
	Line int
	Text string
	Err  error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("isa: line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *AssemblyError) Unwrap() error {
	return e.Err
}

// ParseAssembly parses module assembly text, one instruction per line in
// the form produced by Instruction.String:
//
//	set 0x098 0x50
//	copy 0x0A5 0x01 0x02
//	store 0x0A0
//	end
//
// Text after '#' is a comment. "end" closes the current module, even an
// empty one; a blank line closes it only if it holds instructions. Numbers
// may be written in decimal or with a 0x prefix.
func ParseAssembly(text string) ([][]Instruction, error) {
	var modules [][]Instruction
	var current []Instruction
	open := false

	scanner := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := raw
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)

		if len(fields) == 0 {
			if open && len(current) > 0 {
				modules = append(modules, current)
				current, open = nil, false
			}
			continue
		}

		if strings.EqualFold(fields[0], "end") {
			if len(fields) != 1 {
				return nil, &AssemblyError{Line: lineNo, Text: raw, Err: fmt.Errorf("end takes no operands")}
			}
			if current == nil {
				current = []Instruction{}
			}
			modules = append(modules, current)
			current, open = nil, false
			continue
		}

		instr, err := parseInstruction(fields)
		if err != nil {
			return nil, &AssemblyError{Line: lineNo, Text: raw, Err: err}
		}
		current = append(current, instr)
		open = true
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if open && len(current) > 0 {
		modules = append(modules, current)
	}
	return modules, nil
}

func parseInstruction(fields []string) (Instruction, error) {
	op, ok := ParseOp(fields[0])
	if !ok {
		return nil, fmt.Errorf("unknown mnemonic %q", fields[0])
	}
	if len(fields) < 2 {
		return nil, fmt.Errorf("%s needs an address", op)
	}

	addr, err := strconv.ParseUint(fields[1], 0, 16)
	if err != nil {
		return nil, fmt.Errorf("bad address %q: %w", fields[1], err)
	}
	operands := fields[2:]

	var value byte
	var values []byte
	switch op {
	case OpCopy:
		values = make([]byte, 0, len(operands))
		for _, f := range operands {
			v, err := parseByte(f)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
	case OpSet, OpAdd, OpAnd, OpOr, OpXor:
		if len(operands) != 1 {
			return nil, fmt.Errorf("%s takes an address and one value", op)
		}
		if value, err = parseByte(operands[0]); err != nil {
			return nil, err
		}
	default:
		if len(operands) != 0 {
			return nil, fmt.Errorf("%s takes only an address", op)
		}
	}

	instr, err := New(op, uint16(addr), value, values)
	if err != nil {
		return nil, err
	}
	if _, err := Encode(instr); err != nil {
		return nil, err
	}
	return instr, nil
}

func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("bad value %q: %w", s, err)
	}
	return byte(v), nil
}

// FormatAssembly renders modules as assembly text that ParseAssembly reads
// back unchanged.
func FormatAssembly(modules [][]Instruction) string {
	var b strings.Builder
	for _, module := range modules {
		for _, instr := range module {
			b.WriteString(instr.String())
			b.WriteByte('\n')
		}
		b.WriteString("end\n")
	}
	return b.String()
}

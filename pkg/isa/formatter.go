// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package isa

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// FormatListing disassembles the module in data as a listing with one line
// per instruction: device address, raw bytes and assembly. base is the
// device address of data[0]. On a parse error the listing up to the failing
// instruction is returned along with the error.
func FormatListing(base uint16, data []byte) (string, error) {
	var b strings.Builder
	offset := 0
	for raw, err := range ParseModule(data) {
		if err != nil {
			return b.String(), err
		}
		instr, err := Decode(raw)
		if err != nil {
			return b.String(), withOffset(err, offset)
		}
		writeListingLine(&b, base+uint16(offset), raw, instr.String())
		offset += len(raw)
	}
	if offset < len(data) {
		writeListingLine(&b, base+uint16(offset), data[offset:offset+1], "end")
	}
	return b.String(), nil
}

func writeListingLine(b *strings.Builder, addr uint16, raw []byte, text string) {
	fmt.Fprintf(b, "%04X  %-*s  %s\n", addr, MaxInstructionLength*3-1, spaced(raw), text)
}

func spaced(raw []byte) string {
	parts := make([]string, len(raw))
	for i, v := range raw {
		parts[i] = hex.EncodeToString([]byte{v})
	}
	return strings.ToUpper(strings.Join(parts, " "))
}

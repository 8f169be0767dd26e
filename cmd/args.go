// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Thermoquad/stimlink/pkg/isa"
)

// parseAddress parses a 16-bit address in decimal or 0x-prefixed hex
func parseAddress(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint16(v), nil
}

// parseByteArg parses a byte value in decimal or 0x-prefixed hex
func parseByteArg(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid byte %q: %w", s, err)
	}
	return byte(v), nil
}

// parseHexBytes joins args and decodes them as hex, ignoring spaces,
// colons and 0x prefixes
func parseHexBytes(args []string) ([]byte, error) {
	joined := strings.Join(args, "")
	joined = strings.ReplaceAll(joined, "0x", "")
	joined = strings.ReplaceAll(joined, "0X", "")
	joined = strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(joined)
	data, err := hex.DecodeString(joined)
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	return data, nil
}

// readInput reads a file, or stdin when path is "-"
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// readProgram reads and assembles a module program
func readProgram(path string) ([][]isa.Instruction, error) {
	text, err := readInput(path)
	if err != nil {
		return nil, err
	}
	modules, err := isa.ParseAssembly(string(text))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return modules, nil
}

// hexDump formats data as 16-byte rows prefixed with their address
func hexDump(start uint16, data []byte) string {
	var b strings.Builder
	for offset := 0; offset < len(data); offset += 16 {
		end := min(offset+16, len(data))
		fmt.Fprintf(&b, "%04X: % X\n", int(start)+offset, data[offset:end])
	}
	return b.String()
}

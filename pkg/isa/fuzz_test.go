// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package isa

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomInstruction builds an encodable instruction of a random kind
func randomInstruction(rng *rand.Rand) Instruction {
	op := AllOps[rng.Intn(len(AllOps))]
	addr := uint16(rng.Intn(MaxAddress + 1))
	value := byte(rng.Intn(256))

	switch op {
	case OpSet:
		addr = SetAddressMin + uint16(rng.Intn(SetAddressMax-SetAddressMin+1))
		if rng.Intn(2) == 1 {
			addr += SetBankBBit
		}
	case OpCopy:
		values := make([]byte, rng.Intn(MaxCopyValues+1))
		rng.Read(values)
		return Copy{Address: addr, Values: values}
	}

	instr, _ := New(op, addr, value, nil)
	return instr
}

// ============================================================
// Codec Fuzz Tests
// ============================================================

// TestFuzzCodec_InstructionRoundTrip checks Decode(Encode(i)) == i
func TestFuzzCodec_InstructionRoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		instr := randomInstruction(rng)
		encoded, err := Encode(instr)
		if err != nil {
			t.Fatalf("round %d: Encode(%v): %v", i, instr, err)
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("round %d: Decode(% X): %v", i, encoded, err)
		}
		if !Equal(decoded, instr) {
			t.Fatalf("round %d: round trip mismatch\nwant: %s\ngot:  %s", i, spew.Sdump(instr), spew.Sdump(decoded))
		}
	}
}

// TestFuzzCodec_ModuleRoundTrip checks that random modules survive
// EncodeModule and DecodeModule
func TestFuzzCodec_ModuleRoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		module := make([]Instruction, rng.Intn(20))
		for j := range module {
			module[j] = randomInstruction(rng)
		}

		encoded, err := EncodeModule(module)
		if err != nil {
			t.Fatalf("round %d: EncodeModule: %v", i, err)
		}
		decoded, err := DecodeModule(encoded)
		if err != nil {
			t.Fatalf("round %d: DecodeModule: %v", i, err)
		}
		if !EqualModules(decoded, module) {
			t.Fatalf("round %d: module mismatch\nwant: %s\ngot:  %s", i, spew.Sdump(module), spew.Sdump(decoded))
		}

		size, err := EncodedSize(module)
		if err != nil || size != len(encoded) {
			t.Fatalf("round %d: EncodedSize = %d, %v; encoding is %d bytes", i, size, err, len(encoded))
		}
	}
}

// TestFuzzCodec_RandomBytes decodes random bytes and checks that every
// instruction that decodes re-encodes to the same bytes
func TestFuzzCodec_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		data := make([]byte, rng.Intn(64)+1)
		rng.Read(data)
		checkReencode(t, data)
	}
}

func checkReencode(t *testing.T, data []byte) {
	t.Helper()
	for raw, err := range ParseModule(data) {
		if err != nil {
			var de *DecodeError
			if !errors.Is(err, ErrTruncated) && !errors.As(err, &de) {
				t.Fatalf("unexpected error type for % X: %v", data, err)
			}
			return
		}
		instr, err := Decode(raw)
		if err != nil {
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("Decode(% X): unexpected error %v", raw, err)
			}
			return
		}
		encoded, err := Encode(instr)
		if err != nil {
			t.Fatalf("Encode(%v) from % X: %v", instr, raw, err)
		}
		if !bytes.Equal(encoded, raw) {
			t.Fatalf("re-encode mismatch: % X -> %v -> % X", raw, instr, encoded)
		}
	}
}

// FuzzDecode is the native fuzz target for the module parser
func FuzzDecode(f *testing.F) {
	f.Add([]byte{0x98, 0x50, 0x00})
	f.Add([]byte{0x3F, 0xFF, 1, 2, 3, 4, 5, 6, 7})
	f.Add([]byte{0x5F, 0x00, 0xFF, 0x71, 0xA0})
	f.Add([]byte{0x63})
	f.Fuzz(func(t *testing.T, data []byte) {
		checkReencode(t, data)
	})
}

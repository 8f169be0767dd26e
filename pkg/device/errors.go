// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDevice is returned when no sync reply arrives.
	ErrNoDevice = errors.New("device: no reply to sync; is the device on and connected?")

	// ErrPokeLength is returned for a poke outside 1..MaxPokeLength bytes.
	ErrPokeLength = errors.New("device: poke length out of range")
)

// HandshakeError reports a handshake stage that got an answer it cannot use.
type HandshakeError struct {
	Stage    string // "sync" or "key"
	Got      byte
	HasGot   bool
	Attempts int
	Reason   string
}

func (e *HandshakeError) Error() string {
	msg := fmt.Sprintf("device: %s handshake failed after %d attempt(s)", e.Stage, e.Attempts)
	if e.HasGot {
		msg += fmt.Sprintf(": got 0x%02X", e.Got)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg + "; power cycle the device and retry"
}

// WriteRejectedError is returned when the device refuses a poke.
type WriteRejectedError struct {
	Address uint16
	Length  int
}

func (e *WriteRejectedError) Error() string {
	return fmt.Sprintf("device: write of %d byte(s) at 0x%04X rejected", e.Length, e.Address)
}

// CapacityError is returned when a program does not fit the scratchpad.
type CapacityError struct {
	What string
	Need int
	Have int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("device: program needs %d %s, only %d available", e.Need, e.What, e.Have)
}

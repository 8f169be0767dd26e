// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package xmodem

import (
	"errors"
	"fmt"
)

var (
	// ErrBlockAlignment is returned for data that is not a whole number of
	// blocks.
	ErrBlockAlignment = errors.New("xmodem: data length is not a multiple of 128")

	// ErrNotReady is returned when the receiver never asks for data.
	ErrNotReady = errors.New("xmodem: receiver never signalled ready")

	// ErrNoFinalAck is returned when the end of transmission is not acked.
	ErrNoFinalAck = errors.New("xmodem: end of transmission not acknowledged")
)

// TransferError reports a block the receiver would not accept.
type TransferError struct {
	Block  int // 1-based block index
	Reason string
	Got    byte
	HasGot bool
}

func (e *TransferError) Error() string {
	if e.HasGot {
		return fmt.Sprintf("xmodem: block %d: %s (got 0x%02X)", e.Block, e.Reason, e.Got)
	}
	return fmt.Sprintf("xmodem: block %d: %s", e.Block, e.Reason)
}

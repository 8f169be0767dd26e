// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a channel that has been closed,
	// including reads that were pending when Close was called.
	ErrClosed = errors.New("link: channel closed")

	// ErrDisconnected is returned when the underlying stream ends. The
	// original read error is wrapped alongside it.
	ErrDisconnected = errors.New("link: device disconnected")
)

// FramingError reports a malformed or unexpected frame: checksum mismatch,
// wrong response tag, or an unexpected reply byte. Framing errors are fatal
// for the session and are never retried.
type FramingError struct {
	// Op is the operation that received the frame (e.g. "peek", "poke")
	Op string

	// Address is the target address, if the operation had one
	Address    uint16
	HasAddress bool

	// Expected and Got describe the mismatching byte
	Expected byte
	Got      byte

	// Reason is a short description of the mismatch
	Reason string

	// Frame holds the raw bytes received, when available
	Frame []byte
}

func (e *FramingError) Error() string {
	msg := fmt.Sprintf("%s: %s: expected 0x%02X, got 0x%02X", e.Op, e.Reason, e.Expected, e.Got)
	if e.HasAddress {
		msg = fmt.Sprintf("%s (address 0x%04X)", msg, e.Address)
	}
	if len(e.Frame) > 0 {
		msg = fmt.Sprintf("%s [% X]", msg, e.Frame)
	}
	return msg
}

// IsFramingError returns true if err is or wraps a FramingError.
func IsFramingError(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}

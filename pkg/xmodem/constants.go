// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package xmodem sends firmware images to the controller's bootloader using
// XMODEM-CRC: 128-byte blocks, each followed by a big-endian CRC16, acked or
// nak'd by the receiver.
package xmodem

import "time"

// Protocol bytes
const (
	markerReady = 0x43 // 'C', receiver wants CRC blocks
	soh         = 0x01
	eot         = 0x04
	ack         = 0x06
	nak         = 0x15
)

// BlockSize is the payload size of one block. Files must be a multiple of
// it.
const BlockSize = 128

// Defaults
const (
	DefaultReadyPolls   = 10
	DefaultReadyTimeout = 5 * time.Second
	DefaultReplyTimeout = 5 * time.Second
	DefaultMaxRetries   = 10
	DefaultEOTAttempts  = 10
)

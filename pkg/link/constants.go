// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link implements the byte-level link to the stimulation controller:
// the additive frame checksum, CRC-16/CCITT, and a framed channel that
// serializes reads over a raw serial stream.
//
// The channel is half-duplex. Every write is expected to be answered by
// exactly one read, and reads are serviced strictly in submission order so
// that overlapping callers never see interleaved response bytes.
package link

// KeyMask is XORed with the negotiated session key to form the byte mask
// applied to every outgoing byte.
const KeyMask = 0x55

// CRC-16/CCITT configuration (XMODEM variant)
const (
	crcPolynomial = 0x1021
	crcInitial    = 0x0000
)

// Default buffer sizes
const (
	pumpBufferSize   = 256
	incomingDepth    = 64
	maxLoggedPreview = 64
)

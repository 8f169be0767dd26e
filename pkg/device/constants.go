// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package device implements the command protocol of a two-channel
// stimulation controller on top of a link.Channel: the sync and key
// handshake, single-byte peeks, multi-byte pokes, and uploading module
// programs into the controller's scratchpad.
package device

import "time"

// Command and reply tags
const (
	cmdSync   = 0x00
	replySync = 0x07

	cmdKey   = 0x2F
	replyKey = 0x21

	cmdPeek   = 0x3C
	replyPeek = 0x22

	cmdPoke    = 0x3D // plus the data length shifted into the high nibble
	replyAck   = 0x06
	replyNoAck = 0x07
)

// Protocol limits
const (
	MaxPokeLength = 12

	// DefaultSyncAttempts is how many sync bytes are sent before giving up
	DefaultSyncAttempts = 11

	// DefaultSyncTimeout bounds each sync and key reply
	DefaultSyncTimeout = 500 * time.Millisecond

	// DefaultSettleDelay follows each mode-switch box command
	DefaultSettleDelay = 100 * time.Millisecond
)

// Memory map
const (
	// KeyRegister holds the device's copy of the session key
	KeyRegister = 0x4213

	// BoxCommandRegister executes the command written to it
	BoxCommandRegister = 0x4070

	// ModeRegister selects the mode started by the next box command
	ModeRegister = 0x407B

	// ScratchpadStart and ScratchpadEnd bound the RAM window that holds
	// uploaded modules, inclusive.
	ScratchpadStart = 0x40C0
	ScratchpadEnd   = 0x417E
	ScratchpadSize  = ScratchpadEnd - ScratchpadStart + 1

	// PointerTable holds each scratchpad module's offset into the scratchpad
	PointerTable = 0x41D0
	MaxModules   = 8

	// ScratchpadModule is the module number of the first scratchpad module
	ScratchpadModule = 0xC0

	// TopModeRegister holds the highest selectable mode
	TopModeRegister = 0x41F3

	// ModeSlotMin and ModeSlotMax bound the modes that can be repointed at
	// scratchpad code.
	ModeSlotMin = 0x88
	ModeSlotMax = 0x8E

	// StartVectorBase is the EEPROM start-module vector for ModeSlotMin
	StartVectorBase = 0x8018
)

// modeSwitch is the box command sequence that starts the mode in
// ModeRegister.
var modeSwitch = []byte{0x04, 0x12}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"log/slog"
	"time"

	"github.com/Thermoquad/stimlink/pkg/link"
)

// Device is one session with a controller over a framed channel. It is not
// safe for concurrent use: every command awaits its own reply.
type Device struct {
	ch     *link.Channel
	logger *slog.Logger

	syncAttempts int
	syncTimeout  time.Duration
	keyTimeout   time.Duration

	// keyEverSet records whether a key was installed during this session,
	// even if it was later cleared
	keyEverSet bool
}

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the logger for handshake and upload messages.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Device) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithSyncTimeout sets how long each sync byte waits for a reply.
func WithSyncTimeout(timeout time.Duration) Option {
	return func(d *Device) {
		if timeout > 0 {
			d.syncTimeout = timeout
		}
	}
}

// WithSyncAttempts sets how many sync bytes are sent before ErrNoDevice.
func WithSyncAttempts(attempts int) Option {
	return func(d *Device) {
		if attempts > 0 {
			d.syncAttempts = attempts
		}
	}
}

// WithKeyTimeout sets how long the key request waits for a reply.
func WithKeyTimeout(timeout time.Duration) Option {
	return func(d *Device) {
		if timeout > 0 {
			d.keyTimeout = timeout
		}
	}
}

// New wraps ch. Call Handshake before issuing commands to a device that
// may hold a key from an earlier session.
func New(ch *link.Channel, opts ...Option) *Device {
	d := &Device{
		ch:           ch,
		logger:       slog.New(slog.DiscardHandler),
		syncAttempts: DefaultSyncAttempts,
		syncTimeout:  DefaultSyncTimeout,
		keyTimeout:   DefaultSyncTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Channel returns the underlying channel.
func (d *Device) Channel() *link.Channel {
	return d.ch
}

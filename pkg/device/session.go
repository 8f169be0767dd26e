// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Thermoquad/stimlink/pkg/link"
)

// Handshake flushes stale input, synchronizes and negotiates the session
// key.
func (d *Device) Handshake(ctx context.Context) error {
	if err := d.ch.Flush(ctx); err != nil {
		return err
	}
	if err := d.Synchronize(ctx); err != nil {
		return err
	}
	return d.NegotiateKey(ctx)
}

// Synchronize sends sync bytes until the device answers. A wrong answer is
// fatal; no answer at all is ErrNoDevice.
func (d *Device) Synchronize(ctx context.Context) error {
	for attempt := 1; attempt <= d.syncAttempts; attempt++ {
		if err := d.ch.Write([]byte{cmdSync}, false); err != nil {
			return err
		}

		reply, ok, err := d.ch.ReadTimeout(ctx, 1, false, d.syncTimeout)
		if err != nil {
			return err
		}
		if !ok {
			d.logger.Debug("sync timeout", slog.Int("attempt", attempt))
			continue
		}
		if reply[0] != replySync {
			return &HandshakeError{Stage: "sync", Got: reply[0], HasGot: true, Attempts: attempt}
		}

		d.logger.Debug("synchronized", slog.Int("attempts", attempt))
		return nil
	}
	return ErrNoDevice
}

// NegotiateKey requests the device's session key and installs it on the
// channel. If the device stays silent and no key was set yet this session,
// it assumes the device kept a zero key from an earlier session and retries
// the handshake once with that key.
func (d *Device) NegotiateKey(ctx context.Context) error {
	return d.negotiateKey(ctx, true)
}

func (d *Device) negotiateKey(ctx context.Context, allowFallback bool) error {
	if err := d.ch.Write([]byte{cmdKey, 0x00}, true); err != nil {
		return err
	}

	reply, ok, err := d.ch.ReadTimeout(ctx, 3, true, d.keyTimeout)
	if err != nil {
		return err
	}

	if !ok {
		if !allowFallback || d.keyEverSet {
			attempts := 1
			if !allowFallback {
				attempts = 2
			}
			return &HandshakeError{
				Stage:    "key",
				Attempts: attempts,
				Reason:   "no reply to key request",
			}
		}

		d.logger.Warn("key request timed out, retrying with zero key")
		d.ch.SetKey(0)
		d.keyEverSet = true
		if err := d.ch.Flush(ctx); err != nil {
			return err
		}
		if err := d.Synchronize(ctx); err != nil {
			return err
		}
		return d.negotiateKey(ctx, false)
	}

	if reply[0] != replyKey {
		return &link.FramingError{Op: "key", Reason: "unexpected reply tag", Expected: replyKey, Got: reply[0], Frame: reply}
	}

	d.ch.SetKey(reply[1])
	d.keyEverSet = true
	d.logger.Info("session key negotiated", slog.String("key", fmt.Sprintf("0x%02X", reply[1])))
	return nil
}

// Close tells the device to drop the session key, if one was negotiated,
// and closes the channel. Failing to reset the key is logged, not returned.
func (d *Device) Close(ctx context.Context) error {
	if _, ok := d.ch.Key(); ok {
		if err := d.Poke(ctx, KeyRegister, 0x00); err != nil {
			d.logger.Warn("failed to reset device key", slog.Any("error", err))
		}
		d.ch.ClearKey()
	}
	return d.ch.Close()
}

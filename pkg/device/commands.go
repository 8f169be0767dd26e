// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Thermoquad/stimlink/pkg/isa"
	"github.com/Thermoquad/stimlink/pkg/link"
)

// Peek reads one byte at addr. It waits for the reply until ctx is done.
func (d *Device) Peek(ctx context.Context, addr uint16) (byte, error) {
	if err := d.ch.Write([]byte{cmdPeek, byte(addr >> 8), byte(addr)}, true); err != nil {
		return 0, err
	}

	reply, err := d.ch.Read(ctx, 3, true)
	if err != nil {
		return 0, withAddress(err, "peek", addr)
	}
	if reply[0] != replyPeek {
		return 0, &link.FramingError{
			Op:         "peek",
			Address:    addr,
			HasAddress: true,
			Reason:     "unexpected reply tag",
			Expected:   replyPeek,
			Got:        reply[0],
			Frame:      reply,
		}
	}
	return reply[1], nil
}

// Poke writes 1 to MaxPokeLength bytes starting at addr.
func (d *Device) Poke(ctx context.Context, addr uint16, data ...byte) error {
	if len(data) < 1 || len(data) > MaxPokeLength {
		return fmt.Errorf("%w: %d bytes at 0x%04X", ErrPokeLength, len(data), addr)
	}

	frame := make([]byte, 0, 3+len(data))
	frame = append(frame, cmdPoke+byte(len(data))<<4, byte(addr>>8), byte(addr))
	frame = append(frame, data...)
	if err := d.ch.Write(frame, true); err != nil {
		return err
	}

	reply, err := d.ch.Read(ctx, 1, false)
	if err != nil {
		return err
	}

	switch reply[0] {
	case replyAck:
		return nil
	case replyNoAck:
		return &WriteRejectedError{Address: addr, Length: len(data)}
	default:
		return &link.FramingError{
			Op:         "poke",
			Address:    addr,
			HasAddress: true,
			Reason:     "unexpected reply",
			Expected:   replyAck,
			Got:        reply[0],
			Frame:      reply,
		}
	}
}

// PeekRange reads count consecutive bytes starting at start, one peek per
// byte.
func (d *Device) PeekRange(ctx context.Context, start uint16, count int) ([]byte, error) {
	out := make([]byte, 0, count)
	for i := 0; i < count; i++ {
		addr := start + uint16(i)
		v, err := d.Peek(ctx, addr)
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// PokeRange writes data starting at start, split into pokes of at most
// MaxPokeLength bytes.
func (d *Device) PokeRange(ctx context.Context, start uint16, data []byte) error {
	for offset := 0; offset < len(data); offset += MaxPokeLength {
		end := min(offset+MaxPokeLength, len(data))
		if err := d.Poke(ctx, start+uint16(offset), data[offset:end]...); err != nil {
			return err
		}
	}
	return nil
}

// ByteSource returns a source that peeks successive addresses from start.
// It reports io.EOF after limit bytes, or never when limit is zero.
func (d *Device) ByteSource(start uint16, limit int) isa.ByteSource {
	next := start
	read := 0
	return isa.ByteSourceFunc(func(ctx context.Context) (byte, error) {
		if limit > 0 && read >= limit {
			return 0, io.EOF
		}
		v, err := d.Peek(ctx, next)
		if err != nil {
			return 0, err
		}
		next++
		read++
		return v, nil
	})
}

// withAddress attaches the command and address to a checksum failure
// reported by the channel.
func withAddress(err error, op string, addr uint16) error {
	var fe *link.FramingError
	if errors.As(err, &fe) && !fe.HasAddress {
		located := *fe
		located.Op = op
		located.Address = addr
		located.HasAddress = true
		return &located
	}
	return err
}

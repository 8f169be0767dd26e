// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package xmodem

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Thermoquad/stimlink/pkg/link"
)

// Sender transmits files over a raw channel: no session key and no
// checksum framing.
type Sender struct {
	ch     *link.Channel
	logger *slog.Logger

	readyPolls   int
	readyTimeout time.Duration
	replyTimeout time.Duration
	maxRetries   int
	eotAttempts  int

	progress func(fraction float64)
}

// Option configures a Sender.
type Option func(*Sender)

// WithLogger sets the logger for transfer progress and retries.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sender) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProgress registers a callback receiving the fraction of blocks
// acknowledged, from 0 to 1.
func WithProgress(fn func(fraction float64)) Option {
	return func(s *Sender) {
		s.progress = fn
	}
}

// WithReadyTimeout sets how long each poll for the ready marker waits.
func WithReadyTimeout(timeout time.Duration) Option {
	return func(s *Sender) {
		if timeout > 0 {
			s.readyTimeout = timeout
		}
	}
}

// WithReplyTimeout sets how long a block or end of transmission waits for
// its reply.
func WithReplyTimeout(timeout time.Duration) Option {
	return func(s *Sender) {
		if timeout > 0 {
			s.replyTimeout = timeout
		}
	}
}

// WithRetries sets how many times a nak'd block is resent.
func WithRetries(retries int) Option {
	return func(s *Sender) {
		if retries >= 0 {
			s.maxRetries = retries
		}
	}
}

// NewSender returns a sender on ch. The channel must not have a key set.
func NewSender(ch *link.Channel, opts ...Option) *Sender {
	s := &Sender{
		ch:           ch,
		logger:       slog.New(slog.DiscardHandler),
		readyPolls:   DefaultReadyPolls,
		readyTimeout: DefaultReadyTimeout,
		replyTimeout: DefaultReplyTimeout,
		maxRetries:   DefaultMaxRetries,
		eotAttempts:  DefaultEOTAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendFile transmits data, which must be a whole number of blocks.
func (s *Sender) SendFile(ctx context.Context, data []byte) error {
	if len(data)%BlockSize != 0 {
		return fmt.Errorf("%w: got %d bytes", ErrBlockAlignment, len(data))
	}

	if err := s.ch.Flush(ctx); err != nil {
		return err
	}
	if err := s.waitReady(ctx); err != nil {
		return err
	}

	blocks := len(data) / BlockSize
	s.logger.Info("sending file", slog.Int("bytes", len(data)), slog.Int("blocks", blocks))

	for i := 0; i < blocks; i++ {
		if err := s.sendBlock(ctx, i, data[i*BlockSize:(i+1)*BlockSize]); err != nil {
			return err
		}
		s.report(float64(i+1) / float64(blocks))
	}

	if err := s.finish(ctx); err != nil {
		return err
	}
	if blocks == 0 {
		s.report(1.0)
	}

	s.logger.Info("file sent", slog.Int("blocks", blocks))
	return nil
}

func (s *Sender) waitReady(ctx context.Context) error {
	for poll := 1; poll <= s.readyPolls; poll++ {
		reply, ok, err := s.ch.ReadTimeout(ctx, 1, false, s.readyTimeout)
		if err != nil {
			return err
		}
		if !ok {
			s.logger.Debug("waiting for receiver", slog.Int("poll", poll))
			continue
		}
		if reply[0] == markerReady {
			return nil
		}
		s.logger.Debug("ignoring byte while waiting for receiver", slog.String("byte", fmt.Sprintf("0x%02X", reply[0])))
	}
	return ErrNotReady
}

// sendBlock sends block i (0-based) until it is acked. Blocks are numbered
// from 1 on the wire.
func (s *Sender) sendBlock(ctx context.Context, i int, payload []byte) error {
	frame := EncodeBlock(i+1, payload)

	for retries := 0; ; retries++ {
		if err := s.ch.Write(frame, false); err != nil {
			return err
		}

		reply, ok, err := s.ch.ReadTimeout(ctx, 1, false, s.replyTimeout)
		if err != nil {
			return err
		}
		if !ok {
			return &TransferError{Block: i + 1, Reason: "no reply"}
		}

		switch reply[0] {
		case ack:
			return nil
		case nak:
			if retries >= s.maxRetries {
				return &TransferError{Block: i + 1, Reason: fmt.Sprintf("rejected %d times", retries+1), Got: nak, HasGot: true}
			}
			s.logger.Warn("block rejected, resending", slog.Int("block", i+1), slog.Int("retry", retries+1))
		default:
			return &TransferError{Block: i + 1, Reason: "unexpected reply", Got: reply[0], HasGot: true}
		}
	}
}

func (s *Sender) finish(ctx context.Context) error {
	for attempt := 1; attempt <= s.eotAttempts; attempt++ {
		if err := s.ch.Write([]byte{eot}, false); err != nil {
			return err
		}
		reply, ok, err := s.ch.ReadTimeout(ctx, 1, false, s.replyTimeout)
		if err != nil {
			return err
		}
		if ok && reply[0] == ack {
			return nil
		}
		s.logger.Debug("end of transmission not acked", slog.Int("attempt", attempt))
	}
	return ErrNoFinalAck
}

func (s *Sender) report(fraction float64) {
	if s.progress != nil {
		s.progress(fraction)
	}
}

// EncodeBlock builds the wire frame for payload: header, payload and the
// big-endian CRC16 of the payload. number is the 1-based block number; only
// its low byte is sent.
func EncodeBlock(number int, payload []byte) []byte {
	n := byte(number)
	frame := make([]byte, 0, 3+len(payload)+2)
	frame = append(frame, soh, n, 0xFF-n)
	frame = append(frame, payload...)
	crc := link.CalculateCRC(payload)
	return append(frame, byte(crc>>8), byte(crc))
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Channel is a framed, half-duplex byte channel over a raw duplex stream.
//
// Writes are optionally checksummed and XOR-masked with the session key.
// Reads are submitted to a single FIFO queue served by one goroutine, so two
// reads issued back to back are answered in submission order and never
// consume each other's bytes.
type Channel struct {
	rwc    io.ReadWriteCloser
	logger *slog.Logger

	writeMu sync.Mutex

	keyMu  sync.RWMutex
	key    byte
	hasKey bool

	requests chan *readRequest
	incoming chan []byte

	errMu   sync.Mutex
	pumpErr error

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	stats *statsTracker
}

// readRequest is one queued read. A request with flush set discards
// buffered input instead of reading.
type readRequest struct {
	ctx     context.Context
	n       int
	timeout time.Duration
	flush   bool
	reply   chan readResult
}

type readResult struct {
	data     []byte
	timedOut bool
	err      error
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger used for frame-level debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewChannel takes ownership of rwc and starts the read pump and the read
// queue server. Close releases both.
func NewChannel(rwc io.ReadWriteCloser, opts ...Option) *Channel {
	if rwc == nil {
		panic("link: stream cannot be nil")
	}

	c := &Channel{
		rwc:      rwc,
		logger:   slog.New(slog.DiscardHandler),
		requests: make(chan *readRequest),
		incoming: make(chan []byte, incomingDepth),
		done:     make(chan struct{}),
		stats:    newStatsTracker(),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.pump()
	go c.serve()

	return c
}

// SetKey installs the session key. Subsequent writes are masked with
// key ^ KeyMask.
func (c *Channel) SetKey(key byte) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	c.key = key
	c.hasKey = true
}

// ClearKey removes the session key; writes go out unmasked.
func (c *Channel) ClearKey() {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	c.key = 0
	c.hasKey = false
}

// Key returns the session key and whether one is set.
func (c *Channel) Key() (byte, bool) {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()
	return c.key, c.hasKey
}

// Stats returns a snapshot of the link counters.
func (c *Channel) Stats() Stats {
	return c.stats.snapshot()
}

// Write emits data as a single buffer. When withChecksum is set the additive
// checksum of data is appended. When a key is set every byte, checksum
// included, is XORed with key ^ KeyMask.
func (c *Channel) Write(data []byte, withChecksum bool) error {
	if c.isClosed() {
		return ErrClosed
	}

	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, data...)
	if withChecksum {
		buf = append(buf, Checksum(data))
	}

	if key, ok := c.Key(); ok {
		mask := key ^ KeyMask
		for i := range buf {
			buf[i] ^= mask
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.logger.Debug("tx", slog.String("plain", preview(data)), slog.Int("len", len(buf)))

	n, err := c.rwc.Write(buf)
	if err != nil {
		return fmt.Errorf("link: write: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("link: write: %w", io.ErrShortWrite)
	}

	c.stats.update(func(s *Stats) {
		s.BytesOut += uint64(n)
		s.FramesOut++
	})
	return nil
}

// Read blocks until exactly n bytes are available and returns them. Bytes
// beyond n stay buffered for the next read. With withChecksum set the last
// byte must equal the additive checksum of the preceding bytes; a mismatch
// is returned as a *FramingError.
//
// Cancelling ctx while the read is in flight closes the channel: a torn
// frame cannot be recovered.
func (c *Channel) Read(ctx context.Context, n int, withChecksum bool) ([]byte, error) {
	data, _, err := c.read(ctx, n, withChecksum, 0)
	return data, err
}

// ReadTimeout is Read with a deadline. If timeout elapses before n bytes
// arrive it returns ok=false and a nil error; any partial bytes remain
// buffered. Use it where absence of a reply is expected, such as polling.
func (c *Channel) ReadTimeout(ctx context.Context, n int, withChecksum bool, timeout time.Duration) (data []byte, ok bool, err error) {
	if timeout <= 0 {
		return nil, false, fmt.Errorf("link: read timeout must be positive, got %v", timeout)
	}
	data, timedOut, err := c.read(ctx, n, withChecksum, timeout)
	if err != nil {
		return nil, false, err
	}
	return data, !timedOut, nil
}

// Flush discards every byte received so far. It is queued behind any reads
// already submitted.
func (c *Channel) Flush(ctx context.Context) error {
	res := c.submit(ctx, &readRequest{ctx: ctx, flush: true})
	return res.err
}

// Close releases the stream. Pending and future reads fail with ErrClosed.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Channel) read(ctx context.Context, n int, withChecksum bool, timeout time.Duration) ([]byte, bool, error) {
	if n <= 0 {
		return nil, false, fmt.Errorf("link: read length must be positive, got %d", n)
	}

	res := c.submit(ctx, &readRequest{
		ctx:     ctx,
		n:       n,
		timeout: timeout,
	})
	if res.err != nil || res.timedOut {
		return nil, res.timedOut, res.err
	}

	if withChecksum && !VerifyChecksum(res.data) {
		c.stats.update(func(s *Stats) { s.ChecksumErrors++ })
		body := res.data[:len(res.data)-1]
		return nil, false, &FramingError{
			Op:       "read",
			Reason:   "checksum mismatch",
			Expected: Checksum(body),
			Got:      res.data[len(res.data)-1],
			Frame:    res.data,
		}
	}

	return res.data, false, nil
}

// submit hands req to the read server and waits for its reply. Once the
// server has accepted a request it always replies.
func (c *Channel) submit(ctx context.Context, req *readRequest) readResult {
	req.reply = make(chan readResult, 1)

	select {
	case c.requests <- req:
	case <-c.done:
		return readResult{err: ErrClosed}
	case <-ctx.Done():
		return readResult{err: ctx.Err()}
	}

	return <-req.reply
}

// serve is the single consumer of the read queue.
func (c *Channel) serve() {
	var pending []byte
	for {
		select {
		case <-c.done:
			return
		case req := <-c.requests:
			var res readResult
			if req.flush {
				res = c.flush(&pending)
			} else {
				res = c.fill(req, &pending)
			}
			req.reply <- res
		}
	}
}

func (c *Channel) flush(pending *[]byte) readResult {
	dropped := len(*pending)
	*pending = (*pending)[:0]
	defer func() {
		if dropped > 0 {
			c.logger.Debug("flush", slog.Int("dropped", dropped))
		}
	}()

	for {
		select {
		case chunk, ok := <-c.incoming:
			if !ok {
				return readResult{err: c.streamErr()}
			}
			dropped += len(chunk)
		default:
			return readResult{}
		}
	}
}

func (c *Channel) fill(req *readRequest, pending *[]byte) readResult {
	var timeout <-chan time.Time
	if req.timeout > 0 {
		timer := time.NewTimer(req.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for len(*pending) < req.n {
		select {
		case chunk, ok := <-c.incoming:
			if !ok {
				return readResult{err: c.streamErr()}
			}
			*pending = append(*pending, chunk...)
		case <-timeout:
			c.stats.update(func(s *Stats) { s.Timeouts++ })
			return readResult{timedOut: true}
		case <-req.ctx.Done():
			c.logger.Debug("read cancelled, closing channel", slog.Int("want", req.n), slog.Int("have", len(*pending)))
			c.Close()
			return readResult{err: fmt.Errorf("link: read cancelled: %w", req.ctx.Err())}
		case <-c.done:
			return readResult{err: ErrClosed}
		}
	}

	data := make([]byte, req.n)
	copy(data, *pending)
	*pending = append((*pending)[:0], (*pending)[req.n:]...)

	c.stats.update(func(s *Stats) { s.FramesIn++ })
	c.logger.Debug("rx", slog.String("bytes", preview(data)))
	return readResult{data: data}
}

// pump copies physical reads into the incoming queue until the stream ends.
func (c *Channel) pump() {
	defer close(c.incoming)

	buf := make([]byte, pumpBufferSize)
	for {
		n, err := c.rwc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.stats.update(func(s *Stats) { s.BytesIn += uint64(n) })
			select {
			case c.incoming <- chunk:
			case <-c.done:
				return
			}
		}
		if err != nil {
			c.errMu.Lock()
			c.pumpErr = err
			c.errMu.Unlock()
			return
		}
	}
}

// streamErr is the error reported once the incoming queue has been closed.
func (c *Channel) streamErr() error {
	if c.isClosed() {
		return ErrClosed
	}
	c.errMu.Lock()
	err := c.pumpErr
	c.errMu.Unlock()
	if err == nil || err == io.EOF {
		return ErrDisconnected
	}
	return fmt.Errorf("%w: %v", ErrDisconnected, err)
}

func preview(data []byte) string {
	if len(data) > maxLoggedPreview {
		return hex.EncodeToString(data[:maxLoggedPreview]) + "..."
	}
	return hex.EncodeToString(data)
}

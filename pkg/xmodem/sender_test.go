// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package xmodem

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/stimlink/pkg/link"
)

// ============================================================
// Test Helpers
// ============================================================

// fakeReceiver is a scripted XMODEM-CRC receiver on an in-memory stream.
type fakeReceiver struct {
	mu      sync.Mutex
	pending []byte

	naks       map[int]int // naks to send per 1-based block number
	reply      byte        // replaces the block reply when non-zero
	silentEOTs int         // EOTs to leave unanswered

	frames   [][]byte // every block frame received, in order
	accepted []byte   // payload of acked blocks
	eots     int
	written  int

	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeReceiver() *fakeReceiver {
	return &fakeReceiver{
		naks:   make(map[int]int),
		out:    make(chan []byte, 512),
		closed: make(chan struct{}),
	}
}

// ready sends the ready marker once after a short delay, leaving the
// sender time to flush its input first.
func (f *fakeReceiver) ready() {
	time.AfterFunc(30*time.Millisecond, func() { f.out <- []byte{markerReady} })
}

func (f *fakeReceiver) Read(p []byte) (int, error) {
	select {
	case b := <-f.out:
		return copy(p, b), nil
	case <-f.closed:
		return 0, io.EOF
	}
}

func (f *fakeReceiver) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written += len(p)
	f.pending = append(f.pending, p...)

	for len(f.pending) > 0 {
		switch f.pending[0] {
		case soh:
			if len(f.pending) < 3+BlockSize+2 {
				return len(p), nil
			}
			frame := append([]byte(nil), f.pending[:3+BlockSize+2]...)
			f.pending = f.pending[3+BlockSize+2:]
			f.frames = append(f.frames, frame)
			f.handleBlock(frame)
		case eot:
			f.pending = f.pending[1:]
			f.eots++
			if f.silentEOTs > 0 {
				f.silentEOTs--
				continue
			}
			f.out <- []byte{ack}
		default:
			f.pending = f.pending[1:]
		}
	}
	return len(p), nil
}

func (f *fakeReceiver) handleBlock(frame []byte) {
	number := int(frame[1])
	payload := frame[3 : 3+BlockSize]
	crc := uint16(frame[3+BlockSize])<<8 | uint16(frame[4+BlockSize])

	if f.reply != 0 {
		f.out <- []byte{f.reply}
		return
	}
	if frame[2] != 0xFF-frame[1] || crc != link.CalculateCRC(payload) {
		f.out <- []byte{nak}
		return
	}
	if f.naks[number] > 0 {
		f.naks[number]--
		f.out <- []byte{nak}
		return
	}
	f.accepted = append(f.accepted, payload...)
	f.out <- []byte{ack}
}

func (f *fakeReceiver) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func newTestSender(t *testing.T, f *fakeReceiver, opts ...Option) *Sender {
	t.Helper()
	ch := link.NewChannel(f)
	t.Cleanup(func() { ch.Close() })
	opts = append([]Option{
		WithReadyTimeout(200 * time.Millisecond),
		WithReplyTimeout(200 * time.Millisecond),
	}, opts...)
	return NewSender(ch, opts...)
}

func testFile(blocks int) []byte {
	data := make([]byte, blocks*BlockSize)
	for i := range data {
		data[i] = byte(i * 31)
	}
	return data
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ============================================================
// Block Encoding Tests
// ============================================================

func TestEncodeBlock(t *testing.T) {
	payload := make([]byte, BlockSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	frame := EncodeBlock(1, payload)

	if len(frame) != 3+BlockSize+2 {
		t.Fatalf("frame length = %d, want %d", len(frame), 3+BlockSize+2)
	}
	if !bytes.Equal(frame[:3], []byte{soh, 0x01, 0xFE}) {
		t.Errorf("header = % X, want 01 01 FE", frame[:3])
	}
	if !bytes.Equal(frame[3:3+BlockSize], payload) {
		t.Error("payload not copied verbatim")
	}
	// CRC16/XMODEM of bytes 0..127
	if hi, lo := frame[3+BlockSize], frame[4+BlockSize]; hi != 0xE8 || lo != 0x0A {
		t.Errorf("crc = %02X%02X, want E80A", hi, lo)
	}
}

func TestEncodeBlock_NumberWraps(t *testing.T) {
	frame := EncodeBlock(256, make([]byte, BlockSize))
	if frame[1] != 0x00 || frame[2] != 0xFF {
		t.Errorf("block 256 header = % X, want 01 00 FF", frame[:3])
	}
	frame = EncodeBlock(255, make([]byte, BlockSize))
	if frame[1] != 0xFF || frame[2] != 0x00 {
		t.Errorf("block 255 header = % X, want 01 FF 00", frame[:3])
	}
}

// ============================================================
// Transfer Tests
// ============================================================

func TestSendFile(t *testing.T) {
	f := newFakeReceiver()
	f.ready()

	var progress []float64
	s := newTestSender(t, f, WithProgress(func(p float64) { progress = append(progress, p) }))

	data := testFile(4)
	if err := s.SendFile(testContext(t), data); err != nil {
		t.Fatalf("SendFile error: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !bytes.Equal(f.accepted, data) {
		t.Error("received data differs from sent data")
	}
	if f.eots != 1 {
		t.Errorf("sent %d EOTs, want 1", f.eots)
	}
	want := []float64{0.25, 0.5, 0.75, 1.0}
	if len(progress) != len(want) {
		t.Fatalf("progress = %v, want %v", progress, want)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("progress = %v, want %v", progress, want)
			break
		}
	}
}

func TestSendFile_NakRetry(t *testing.T) {
	f := newFakeReceiver()
	f.naks[1] = 2
	f.ready()

	var progress []float64
	s := newTestSender(t, f, WithProgress(func(p float64) {
		f.mu.Lock()
		sent := len(f.frames)
		f.mu.Unlock()
		// Block 1 is acked on its third transmission
		if len(progress) == 0 && sent != 3 {
			t.Errorf("first progress report after %d frames, want 3", sent)
		}
		progress = append(progress, p)
	}))

	data := testFile(2)
	if err := s.SendFile(testContext(t), data); err != nil {
		t.Fatalf("SendFile error: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) != 4 {
		t.Fatalf("sent %d frames, want 4", len(f.frames))
	}
	for i := 1; i < 3; i++ {
		if !bytes.Equal(f.frames[i], f.frames[0]) {
			t.Errorf("retry %d differs from the original block", i)
		}
	}
	if f.frames[3][1] != 0x02 {
		t.Errorf("last frame is block %d, want 2", f.frames[3][1])
	}
	if len(progress) != 2 || progress[0] != 0.5 || progress[1] != 1.0 {
		t.Errorf("progress = %v, want [0.5 1]", progress)
	}
}

func TestSendFile_TooManyNaks(t *testing.T) {
	f := newFakeReceiver()
	f.naks[1] = 100
	f.ready()
	s := newTestSender(t, f, WithRetries(3))

	err := s.SendFile(testContext(t), testFile(1))
	var te *TransferError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *TransferError", err)
	}
	if te.Block != 1 || te.Got != nak {
		t.Errorf("TransferError = %+v", te)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) != 4 {
		t.Errorf("sent %d frames, want 4 (1 + 3 retries)", len(f.frames))
	}
}

func TestSendFile_UnexpectedReply(t *testing.T) {
	f := newFakeReceiver()
	f.reply = 0x18
	f.ready()
	s := newTestSender(t, f)

	err := s.SendFile(testContext(t), testFile(1))
	var te *TransferError
	if !errors.As(err, &te) || te.Got != 0x18 || !te.HasGot {
		t.Fatalf("error = %v, want *TransferError with 0x18", err)
	}
}

func TestSendFile_BlockAlignment(t *testing.T) {
	f := newFakeReceiver()
	s := newTestSender(t, f)

	for _, n := range []int{1, 100, BlockSize + 1} {
		if err := s.SendFile(testContext(t), make([]byte, n)); !errors.Is(err, ErrBlockAlignment) {
			t.Errorf("SendFile(%d bytes) error = %v, want ErrBlockAlignment", n, err)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.written != 0 {
		t.Errorf("%d bytes written for misaligned data", f.written)
	}
}

func TestSendFile_NotReady(t *testing.T) {
	f := newFakeReceiver()
	s := newTestSender(t, f, WithReadyTimeout(10*time.Millisecond))

	if err := s.SendFile(testContext(t), testFile(1)); !errors.Is(err, ErrNotReady) {
		t.Fatalf("error = %v, want ErrNotReady", err)
	}
}

func TestSendFile_NoFinalAck(t *testing.T) {
	f := newFakeReceiver()
	f.silentEOTs = 100
	f.ready()
	s := newTestSender(t, f, WithReplyTimeout(20*time.Millisecond))

	if err := s.SendFile(testContext(t), testFile(1)); !errors.Is(err, ErrNoFinalAck) {
		t.Fatalf("error = %v, want ErrNoFinalAck", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.eots != DefaultEOTAttempts {
		t.Errorf("sent %d EOTs, want %d", f.eots, DefaultEOTAttempts)
	}
}

func TestSendFile_EOTRetry(t *testing.T) {
	f := newFakeReceiver()
	f.silentEOTs = 2
	f.ready()
	s := newTestSender(t, f, WithReplyTimeout(50*time.Millisecond))

	if err := s.SendFile(testContext(t), testFile(1)); err != nil {
		t.Fatalf("SendFile error: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.eots != 3 {
		t.Errorf("sent %d EOTs, want 3", f.eots)
	}
}

func TestSendFile_Empty(t *testing.T) {
	f := newFakeReceiver()
	f.ready()

	var progress []float64
	s := newTestSender(t, f, WithProgress(func(p float64) { progress = append(progress, p) }))

	if err := s.SendFile(testContext(t), nil); err != nil {
		t.Fatalf("SendFile error: %v", err)
	}
	if len(progress) != 1 || progress[0] != 1.0 {
		t.Errorf("progress = %v, want [1]", progress)
	}
}

func TestSendFile_BlockNumbersWrap(t *testing.T) {
	f := newFakeReceiver()
	f.ready()
	s := newTestSender(t, f)

	data := testFile(257)
	if err := s.SendFile(testContext(t), data); err != nil {
		t.Fatalf("SendFile error: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if got := f.frames[255][1]; got != 0x00 {
		t.Errorf("block 256 number byte = 0x%02X, want 0x00", got)
	}
	if got := f.frames[256][1]; got != 0x01 {
		t.Errorf("block 257 number byte = 0x%02X, want 0x01", got)
	}
	if !bytes.Equal(f.accepted, data) {
		t.Error("received data differs from sent data")
	}
}

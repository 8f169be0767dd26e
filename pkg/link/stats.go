// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"fmt"
	"sync"
	"time"
)

// Stats tracks link traffic and error counters.
type Stats struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	BytesOut       uint64
	BytesIn        uint64
	FramesOut      uint64
	FramesIn       uint64
	ChecksumErrors uint64
	Timeouts       uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec, both directions
	ErrorRate float64 // checksum errors/sec
}

// statsTracker guards a Stats value shared by the pump, the read server and
// writers.
type statsTracker struct {
	mu sync.Mutex
	s  Stats
}

func newStatsTracker() *statsTracker {
	now := time.Now()
	return &statsTracker{s: Stats{StartTime: now, LastUpdateTime: now}}
}

func (t *statsTracker) update(fn func(s *Stats)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.s)
	t.s.LastUpdateTime = time.Now()
}

func (t *statsTracker) snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.s
	s.CalculateRates()
	return s
}

// CalculateRates calculates frame and error rates
func (s *Stats) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.FramesIn+s.FramesOut) / elapsed
		s.ErrorRate = float64(s.ChecksumErrors) / elapsed
	}
}

// String returns a formatted statistics summary
func (s Stats) String() string {
	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Link Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Frames Out:      %8d (%d bytes)\n", s.FramesOut, s.BytesOut)
	result += fmt.Sprintf("Frames In:       %8d (%d bytes)\n", s.FramesIn, s.BytesIn)
	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d\n", s.ChecksumErrors)
	}
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Read Timeouts:   %8d\n", s.Timeouts)
	}
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "======================================\n"
	return result
}

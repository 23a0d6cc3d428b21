// Package timeseries provides time-windowed rate tracking for progress display.
//
// A RateTracker samples a monotonically increasing counter (lines parsed,
// pairs matched) and computes rolling rates over short windows.
//
// Thread-safe: Add uses an atomic int64, Snapshot acquires a read lock.
package timeseries

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// ringBufferSize is the number of samples to retain (1 minute at 4 samples/sec)
	ringBufferSize = 240

	window1s  = 1 * time.Second
	window10s = 10 * time.Second
)

// Clock interface for testing with deterministic time.
type Clock interface {
	Now() time.Time
}

// realClock uses time.Now() for production.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type sample struct {
	timestamp time.Time
	total     int64
}

// RateTracker tracks a cumulative count and computes rolling rates.
//
// Usage:
//
//	tracker := NewRateTracker()
//	tracker.Set(binner.LinesProcessed()) // or Add(n) per unit of work
//	tracker.RecordSample()               // periodically, e.g. every tick
//	snap := tracker.Snapshot()
type RateTracker struct {
	total atomic.Int64

	samples  []sample
	writeIdx int
	mu       sync.RWMutex

	startTime time.Time
	clock     Clock
}

// RateStats contains computed rates at a point in time.
type RateStats struct {
	Total int64

	// Rolling rates (units per second)
	Rate1s  float64
	Rate10s float64

	// RateOverall is the average rate since tracking started.
	RateOverall float64

	Elapsed time.Duration
}

// NewRateTracker creates a new tracker with real clock.
func NewRateTracker() *RateTracker {
	return NewRateTrackerWithClock(realClock{})
}

// NewRateTrackerWithClock creates a tracker with custom clock for testing.
func NewRateTrackerWithClock(clock Clock) *RateTracker {
	now := clock.Now()
	t := &RateTracker{
		samples:   make([]sample, 0, ringBufferSize),
		startTime: now,
		clock:     clock,
	}
	t.samples = append(t.samples, sample{timestamp: now})
	return t
}

// Add adds n to the cumulative total. Non-positive values are ignored.
func (t *RateTracker) Add(n int64) {
	if n > 0 {
		t.total.Add(n)
	}
}

// Set replaces the cumulative total, for callers that already keep a
// counter. Decreasing values are ignored.
func (t *RateTracker) Set(total int64) {
	for {
		cur := t.total.Load()
		if total <= cur || t.total.CompareAndSwap(cur, total) {
			return
		}
	}
}

// RecordSample records the current total with a timestamp.
func (t *RateTracker) RecordSample() {
	now := t.clock.Now()
	total := t.total.Load()

	t.mu.Lock()
	defer t.mu.Unlock()

	s := sample{timestamp: now, total: total}
	if len(t.samples) < ringBufferSize {
		t.samples = append(t.samples, s)
		return
	}
	// Buffer full - overwrite oldest
	t.samples[t.writeIdx] = s
	t.writeIdx = (t.writeIdx + 1) % ringBufferSize
}

// Snapshot computes the current rates. Always returns valid data; when the
// history is shorter than a window the oldest sample is used.
func (t *RateTracker) Snapshot() RateStats {
	now := t.clock.Now()
	total := t.total.Load()

	t.mu.RLock()
	defer t.mu.RUnlock()

	st := RateStats{
		Total:   total,
		Elapsed: now.Sub(t.startTime),
	}
	if secs := st.Elapsed.Seconds(); secs > 0 {
		st.RateOverall = float64(total) / secs
	}
	st.Rate1s = t.rateOverWindow(now, total, window1s)
	st.Rate10s = t.rateOverWindow(now, total, window10s)
	return st
}

// rateOverWindow must be called with mu held.
func (t *RateTracker) rateOverWindow(now time.Time, total int64, window time.Duration) float64 {
	target := now.Add(-window)

	// Newest sample at or before target.
	var best *sample
	for i := range t.samples {
		s := &t.samples[i]
		if s.timestamp.After(target) {
			continue
		}
		if best == nil || s.timestamp.After(best.timestamp) {
			best = s
		}
	}
	if best == nil {
		best = t.oldestSample()
	}
	if best == nil {
		return 0
	}

	elapsed := now.Sub(best.timestamp).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(total-best.total) / elapsed
}

// oldestSample must be called with mu held.
func (t *RateTracker) oldestSample() *sample {
	if len(t.samples) == 0 {
		return nil
	}
	if len(t.samples) < ringBufferSize {
		return &t.samples[0]
	}
	return &t.samples[t.writeIdx]
}

// Reset clears all data and restarts tracking.
func (t *RateTracker) Reset() {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.total.Store(0)
	t.samples = append(t.samples[:0], sample{timestamp: now})
	t.writeIdx = 0
	t.startTime = now
}

// SampleCount returns the number of samples in the ring buffer.
func (t *RateTracker) SampleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}

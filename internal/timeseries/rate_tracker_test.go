package timeseries

import (
	"math"
	"sync"
	"testing"
	"time"
)

// mockClock provides deterministic time for testing.
type mockClock struct {
	mu   sync.Mutex
	time time.Time
}

func newMockClock(t time.Time) *mockClock {
	return &mockClock{time: t}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time = c.time.Add(d)
}

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRateTracker_Add(t *testing.T) {
	tests := []struct {
		name     string
		adds     []int64
		expected int64
	}{
		{"single add", []int64{1024}, 1024},
		{"multiple adds", []int64{100, 200, 300}, 600},
		{"zero value ignored", []int64{100, 0, 200}, 300},
		{"negative value ignored", []int64{100, -50, 200}, 300},
		{"empty", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewRateTrackerWithClock(newMockClock(epoch))
			for _, n := range tt.adds {
				tracker.Add(n)
			}
			if got := tracker.Snapshot().Total; got != tt.expected {
				t.Errorf("Total = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestRateTracker_SetMonotonic(t *testing.T) {
	tracker := NewRateTrackerWithClock(newMockClock(epoch))
	tracker.Set(500)
	tracker.Set(200)
	if got := tracker.Snapshot().Total; got != 500 {
		t.Errorf("Total = %d, want 500", got)
	}
	tracker.Set(900)
	if got := tracker.Snapshot().Total; got != 900 {
		t.Errorf("Total = %d, want 900", got)
	}
}

func TestRateTracker_Rates(t *testing.T) {
	clock := newMockClock(epoch)
	tracker := NewRateTrackerWithClock(clock)

	// 1000 units per second for 20 seconds, then 100/s for 1 second.
	for i := 0; i < 20; i++ {
		clock.Advance(time.Second)
		tracker.Add(1000)
		tracker.RecordSample()
	}
	clock.Advance(time.Second)
	tracker.Add(100)
	tracker.RecordSample()

	st := tracker.Snapshot()
	if st.Total != 20_100 {
		t.Fatalf("Total = %d", st.Total)
	}
	if math.Abs(st.Rate1s-100) > 1e-9 {
		t.Errorf("Rate1s = %v, want 100", st.Rate1s)
	}
	// Last 10s: 9 seconds at 1000 plus 1 at 100.
	if math.Abs(st.Rate10s-910) > 1e-9 {
		t.Errorf("Rate10s = %v, want 910", st.Rate10s)
	}
	if math.Abs(st.RateOverall-20_100.0/21) > 1e-9 {
		t.Errorf("RateOverall = %v", st.RateOverall)
	}
	if st.Elapsed != 21*time.Second {
		t.Errorf("Elapsed = %v", st.Elapsed)
	}
}

func TestRateTracker_ShortHistoryUsesOldest(t *testing.T) {
	clock := newMockClock(epoch)
	tracker := NewRateTrackerWithClock(clock)

	clock.Advance(2 * time.Second)
	tracker.Add(400)
	tracker.RecordSample()

	st := tracker.Snapshot()
	if math.Abs(st.Rate10s-200) > 1e-9 {
		t.Errorf("Rate10s = %v, want 200 (from initial sample)", st.Rate10s)
	}
}

func TestRateTracker_NoElapsed(t *testing.T) {
	tracker := NewRateTrackerWithClock(newMockClock(epoch))
	tracker.Add(10)
	st := tracker.Snapshot()
	if st.Rate1s != 0 || st.RateOverall != 0 {
		t.Errorf("rates with zero elapsed time = %+v", st)
	}
}

func TestRateTracker_RingBufferWraps(t *testing.T) {
	clock := newMockClock(epoch)
	tracker := NewRateTrackerWithClock(clock)
	for i := 0; i < ringBufferSize+50; i++ {
		clock.Advance(250 * time.Millisecond)
		tracker.Add(1)
		tracker.RecordSample()
	}
	if got := tracker.SampleCount(); got != ringBufferSize {
		t.Errorf("SampleCount = %d, want %d", got, ringBufferSize)
	}
	if st := tracker.Snapshot(); math.Abs(st.Rate1s-4) > 1e-9 {
		t.Errorf("Rate1s = %v, want 4", st.Rate1s)
	}
}

func TestRateTracker_Reset(t *testing.T) {
	clock := newMockClock(epoch)
	tracker := NewRateTrackerWithClock(clock)
	clock.Advance(time.Second)
	tracker.Add(100)
	tracker.RecordSample()

	tracker.Reset()
	if tracker.SampleCount() != 1 {
		t.Errorf("SampleCount after reset = %d, want 1", tracker.SampleCount())
	}
	if st := tracker.Snapshot(); st.Total != 0 || st.Elapsed != 0 {
		t.Errorf("snapshot after reset = %+v", st)
	}
}

func TestRateTracker_Concurrent(t *testing.T) {
	tracker := NewRateTracker()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				tracker.Add(1)
				if j%100 == 0 {
					tracker.RecordSample()
					_ = tracker.Snapshot()
				}
			}
		}()
	}
	wg.Wait()
	if got := tracker.Snapshot().Total; got != 8000 {
		t.Errorf("Total = %d, want 8000", got)
	}
}

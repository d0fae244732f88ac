// Package traffic keeps sliding windows of harvest run outcomes.
package traffic

import (
	"sync"
	"time"
)

// Outcome is the terminal state of one harvest run. Values are also metric labels.
type Outcome string

const (
	OutcomeUploaded Outcome = "uploaded"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// Tracker maintains sliding windows of run outcome timestamps.
// Single source of truth for the degraded health check (FailureRate).
type Tracker struct {
	mu            sync.Mutex
	window        time.Duration
	uploadedTimes []time.Time
	skippedTimes  []time.Time
	failedTimes   []time.Time
	now           func() time.Time
}

// NewTracker returns a Tracker whose FailureRate looks back over window.
// Timestamps older than window are pruned on every record.
func NewTracker(window time.Duration) *Tracker {
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &Tracker{window: window, now: time.Now}
}

// Window returns the look-back used by FailureRate.
func (t *Tracker) Window() time.Duration {
	return t.window
}

// Record records one run outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	t.RecordN(o, 1)
}

// RecordN records n outcomes at the current time.
func (t *Tracker) RecordN(o Outcome, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slice := t.sliceFor(o)
	if slice == nil {
		return
	}
	now := t.now()
	for i := 0; i < n; i++ {
		*slice = append(*slice, now)
	}
	t.pruneLocked(now)
}

// Count returns the number of o outcomes within the window ending now.
func (t *Tracker) Count(o Outcome, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	slice := t.sliceFor(o)
	if slice == nil {
		return 0
	}
	return countInWindow(*slice, t.now().Add(-window))
}

// RunCount returns the number of runs of any outcome within the window ending now.
func (t *Tracker) RunCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	return countInWindow(t.uploadedTimes, cutoff) +
		countInWindow(t.skippedTimes, cutoff) +
		countInWindow(t.failedTimes, cutoff)
}

// FailureRate returns (failed, total) within the tracker window. A skipped run is a
// healthy run: the gate worked and upstream simply had not advanced.
func (t *Tracker) FailureRate() (failed, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-t.window)
	failed = countInWindow(t.failedTimes, cutoff)
	total = failed + countInWindow(t.uploadedTimes, cutoff) + countInWindow(t.skippedTimes, cutoff)
	return failed, total
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uploadedTimes = nil
	t.skippedTimes = nil
	t.failedTimes = nil
}

func (t *Tracker) sliceFor(o Outcome) *[]time.Time {
	switch o {
	case OutcomeUploaded:
		return &t.uploadedTimes
	case OutcomeSkipped:
		return &t.skippedTimes
	case OutcomeFailed:
		return &t.failedTimes
	}
	return nil
}

// countInWindow counts timestamps that are not before the cutoff time.
func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked removes timestamps older than the tracker window from all outcome slices.
// Must be called with mutex held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.window)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.uploadedTimes)
	prune(&t.skippedTimes)
	prune(&t.failedTimes)
}

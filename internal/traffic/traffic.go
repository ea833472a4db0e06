// Package traffic keeps sliding-window counts of flow outcomes for health decisions.
package traffic

import (
	"sync"
	"time"
)

const defaultWindow = time.Minute

// Tracker maintains sliding windows of outcome timestamps. Successes and errors
// feed the error rate; denials feed overload detection. Safe for concurrent use.
type Tracker struct {
	mu           sync.Mutex
	window       time.Duration
	now          func() time.Time
	successTimes []time.Time
	errorTimes   []time.Time
	deniedTimes  []time.Time
}

// NewTracker returns a tracker over window; non-positive windows use one minute.
func NewTracker(window time.Duration) *Tracker {
	if window <= 0 {
		window = defaultWindow
	}
	return &Tracker{window: window, now: time.Now}
}

func (t *Tracker) Window() time.Duration {
	return t.window
}

// RecordSuccess records a flow invocation that returned a result.
func (t *Tracker) RecordSuccess() {
	t.record(&t.successTimes)
}

// RecordError records a flow invocation that failed after passing validation.
func (t *Tracker) RecordError() {
	t.record(&t.errorTimes)
}

// RecordDenied records a rate-limit denial (429).
func (t *Tracker) RecordDenied() {
	t.record(&t.deniedTimes)
}

func (t *Tracker) record(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// RequestCount returns success + error + denied outcomes within the window.
func (t *Tracker) RequestCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-t.window)
	return countSince(t.successTimes, cutoff) +
		countSince(t.errorTimes, cutoff) +
		countSince(t.deniedTimes, cutoff)
}

// DenialCount returns rate-limit denials within the window.
func (t *Tracker) DenialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.deniedTimes, t.now().Add(-t.window))
}

// ErrorRate returns (errorCount, totalCount) within the window.
// totalCount is successes plus errors; denials are excluded.
func (t *Tracker) ErrorRate() (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-t.window)
	errCount := countSince(t.errorTimes, cutoff)
	return errCount, errCount + countSince(t.successTimes, cutoff)
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
	t.deniedTimes = nil
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps that have left the window. Must be called with mu held.
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
	prune(&t.successTimes)
	prune(&t.errorTimes)
	prune(&t.deniedTimes)
}

// Package ratelimit bounds command and IPC message throughput.
//
// Two limiter shapes cover the two pressure points: Interval enforces
// minimum spacing between accepted voice commands, Window caps message
// counts per connection over a sliding window.
package ratelimit

import (
	"time"

	"github.com/voxgate/voxgate/internal/model"
)

// Interval enforces a minimum gap between accepted commands.
//
// The last-accepted timestamp is single-writer state: only the pipeline
// goroutine calls Check, so no lock is needed. Concurrent transcript
// delivery is serialized upstream by the pipeline's intake channel.
type Interval struct {
	min  time.Duration
	last time.Time
	now  func() time.Time
}

// NewInterval creates a limiter with the given minimum spacing.
func NewInterval(min time.Duration) *Interval {
	return &Interval{min: min, now: time.Now}
}

// NewIntervalWithClock creates a limiter with an injectable clock for tests.
func NewIntervalWithClock(min time.Duration, now func() time.Time) *Interval {
	return &Interval{min: min, now: now}
}

// SetMin updates the minimum spacing. Called from the pipeline goroutine
// on config reload.
func (i *Interval) SetMin(min time.Duration) {
	i.min = min
}

// Check reports whether a command may be accepted now. Acceptance
// advances the last-accepted timestamp; rejection leaves it untouched
// so a burst cannot push the window forward.
func (i *Interval) Check() (bool, model.Reason) {
	now := i.now()
	if !i.last.IsZero() && now.Sub(i.last) < i.min {
		return false, model.ReasonRateLimited
	}
	i.last = now
	return true, ""
}

package ratelimit

import (
	"time"

	"github.com/voxgate/voxgate/internal/model"
)

// Window caps how many messages a single IPC connection may send inside
// a sliding window. Excess messages are dropped, never queued unbounded.
//
// Each connection owns one Window; the connection's reader goroutine is
// the only caller, so no lock is needed.
type Window struct {
	max    int
	window time.Duration

	count int
	start time.Time
	now   func() time.Time
}

// NewWindow creates a per-connection limiter.
func NewWindow(max int, window time.Duration) *Window {
	return &Window{max: max, window: window, now: time.Now}
}

// NewWindowWithClock creates a limiter with an injectable clock for tests.
func NewWindowWithClock(max int, window time.Duration, now func() time.Time) *Window {
	return &Window{max: max, window: window, now: now}
}

// Allow reports whether one more message fits in the current window.
// When the window has elapsed the counter resets.
func (w *Window) Allow() (bool, model.Reason) {
	now := w.now()
	if w.start.IsZero() || now.Sub(w.start) >= w.window {
		w.start = now
		w.count = 0
	}
	if w.count >= w.max {
		return false, model.ReasonIPCRateLimited
	}
	w.count++
	return true, ""
}

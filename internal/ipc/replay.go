package ipc

import (
	"sync"
	"time"
)

// NonceWindow tracks nonces seen within a sliding window. A nonce is
// single-use while inside the window; after the window elapses it may
// appear again.
type NonceWindow struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

// NewNonceWindow creates a window of the given width.
func NewNonceWindow(window time.Duration) *NonceWindow {
	return &NonceWindow{
		window: window,
		seen:   map[string]time.Time{},
		now:    time.Now,
	}
}

// NewNonceWindowWithClock is NewNonceWindow with an injected clock.
func NewNonceWindowWithClock(window time.Duration, now func() time.Time) *NonceWindow {
	w := NewNonceWindow(window)
	w.now = now
	return w
}

// Observe records the nonce and reports whether it was fresh. A nonce
// already seen within the window returns false and does not refresh
// its expiry.
func (w *NonceWindow) Observe(nonce string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.pruneLocked(now)

	if _, dup := w.seen[nonce]; dup {
		return false
	}
	w.seen[nonce] = now
	return true
}

func (w *NonceWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.window)
	for n, ts := range w.seen {
		if ts.Before(cutoff) {
			delete(w.seen, n)
		}
	}
}

package faucet

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitedError reports that a disbursement key is inside its one-use
// window. RetryAfter is never longer than the configured window.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Window enforces one disbursement per key per TTL with consume-then-confirm
// ordering: Reserve marks the key in-flight before the transaction is sent,
// so a duplicate request racing the first one is rejected instead of
// double-disbursing. A failed disbursement releases the hold; only a
// confirmed one starts the window.
type Window struct {
	mu       sync.Mutex
	granted  map[string]time.Time
	inFlight map[string]struct{}
	ttl      time.Duration
}

// NewWindow creates a window store with the given TTL.
func NewWindow(ttl time.Duration) *Window {
	return &Window{
		granted:  make(map[string]time.Time),
		inFlight: make(map[string]struct{}),
		ttl:      ttl,
	}
}

// Reserve takes the in-flight hold for key. Returns a RateLimitedError if
// the key was already disbursed inside the window or another request holds
// it right now.
func (w *Window) Reserve(key string) (*Reservation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.cleanupExpiredLocked(now)

	if expiry, ok := w.granted[key]; ok {
		return nil, &RateLimitedError{RetryAfter: expiry.Sub(now)}
	}
	if _, ok := w.inFlight[key]; ok {
		// A concurrent request is mid-disbursement; its window starts when
		// it confirms, so the full TTL is the safe upper bound.
		return nil, &RateLimitedError{RetryAfter: w.ttl}
	}

	w.inFlight[key] = struct{}{}
	return &Reservation{w: w, key: key}, nil
}

// cleanupExpiredLocked removes expired grants. Must be called with the lock held.
func (w *Window) cleanupExpiredLocked(now time.Time) {
	for key, expiry := range w.granted {
		if now.After(expiry) {
			delete(w.granted, key)
		}
	}
}

// Reservation is an in-flight hold on one disbursement key.
type Reservation struct {
	w    *Window
	key  string
	once sync.Once
}

// Confirm records the disbursement and starts the window.
func (r *Reservation) Confirm() {
	r.once.Do(func() {
		r.w.mu.Lock()
		defer r.w.mu.Unlock()
		r.w.granted[r.key] = time.Now().Add(r.w.ttl)
		delete(r.w.inFlight, r.key)
	})
}

// Release drops the hold without starting the window, allowing a retry after
// a failed disbursement.
func (r *Reservation) Release() {
	r.once.Do(func() {
		r.w.mu.Lock()
		defer r.w.mu.Unlock()
		delete(r.w.inFlight, r.key)
	})
}

// Package timerutil provides a cancellable deadline timer handle used by
// both the Lift State Machine (door-hold, motion-stuck) and the Watchdog
// (per-order deadline). It replaces the reference project's package-level
// polled active/inactive flag (elev_al_go/timer/timer.go), which cannot
// represent more than one concurrently-armed deadline.
package timerutil

import (
	"sync"
	"time"
)

// Handle is an opaque, cancellable timer. Cancel is race-free: every arm
// (via AfterFunc or Reset) is tagged with a generation, and a fire only
// calls fn if its generation is still current, so a fire that already
// raced past time.AfterFunc's own goroutine boundary is still discarded
// instead of reaching fn once Cancel or Reset has moved past it.
type Handle struct {
	mu  sync.Mutex
	t   *time.Timer
	fn  func()
	gen uint64
}

// AfterFunc arms a timer that calls fn in its own goroutine when d elapses,
// unless the returned Handle is cancelled or reset first.
func AfterFunc(d time.Duration, fn func()) *Handle {
	h := &Handle{fn: fn}
	h.arm(d)
	return h
}

func (h *Handle) arm(d time.Duration) {
	h.gen++
	gen := h.gen
	h.t = time.AfterFunc(d, func() { h.fire(gen) })
}

func (h *Handle) fire(gen uint64) {
	h.mu.Lock()
	live := gen == h.gen
	h.mu.Unlock()
	if live {
		h.fn()
	}
}

// Cancel stops the timer and retires its generation, so a fire already in
// flight when Cancel runs is discarded rather than invoking fn. Safe to
// call on a nil handle or to call twice.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.t != nil {
		h.t.Stop()
	}
	h.gen++
}

// Reset cancels any pending fire and rearms the same handle for d from now.
func (h *Handle) Reset(d time.Duration) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.t != nil {
		h.t.Stop()
	}
	h.gen++
	gen := h.gen
	h.t = time.AfterFunc(d, func() { h.fire(gen) })
}

// Package throttle coalesces bursts of state-change notifications into at
// most one broadcast per window.
package throttle

import (
	"log/slog"
	"sync"
	"time"
)

// Throttler enforces a minimum spacing between broadcasts of one
// notification type. Triggers inside the window collapse into a single
// delayed broadcast that recomputes its value at fire time, so the final
// state of a busy window is never silently dropped.
type Throttler struct {
	window    time.Duration
	recompute func() (int, error)
	emit      func(count int)
	logger    *slog.Logger

	mu            sync.Mutex
	lastBroadcast time.Time
	pending       bool

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// New creates a throttler. recompute produces a fresh count for delayed
// broadcasts; emit delivers the count to connected clients.
func New(window time.Duration, recompute func() (int, error), emit func(count int), logger *slog.Logger) *Throttler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Throttler{
		window:    window,
		recompute: recompute,
		emit:      emit,
		logger:    logger.With("component", "throttle"),
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
}

// Request asks for a broadcast. If the window since the last broadcast has
// elapsed, producer supplies the count and the broadcast happens now.
// Otherwise exactly one delayed broadcast is scheduled for the remainder of
// the window; further triggers before it fires are no-ops, because the
// scheduled broadcast recomputes the count when it fires rather than when
// it was scheduled.
func (t *Throttler) Request(producer func() int) {
	t.mu.Lock()

	now := t.now()
	elapsed := now.Sub(t.lastBroadcast)

	if elapsed >= t.window {
		t.lastBroadcast = now
		t.pending = false
		t.mu.Unlock()
		t.emit(producer())
		return
	}

	if t.pending {
		t.mu.Unlock()
		return
	}
	t.pending = true
	t.afterFunc(t.window-elapsed, t.fire)
	t.mu.Unlock()
}

// fire runs the delayed broadcast. There is no cancellation path: the timer
// always fires and recomputes state immediately before emitting, so
// correctness never depends on the original trigger still being relevant.
func (t *Throttler) fire() {
	t.mu.Lock()
	t.pending = false
	t.lastBroadcast = t.now()
	t.mu.Unlock()

	count, err := t.recompute()
	if err != nil {
		t.logger.Error("skipping delayed broadcast", "error", err)
		return
	}
	t.emit(count)
}

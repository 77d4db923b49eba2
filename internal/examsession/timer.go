package examsession

import (
	"context"
	"sync"
	"time"
)

// Timer counts down to an absolute deadline. Remaining time is recomputed from
// the deadline on every call, so suspension of the host never causes drift.
type Timer struct {
	deadline time.Time
	now      func() time.Time

	mu    sync.Mutex
	fired bool
}

// NewTimer returns a Timer for deadline. A nil clock means time.Now.
func NewTimer(deadline time.Time, now func() time.Time) *Timer {
	if now == nil {
		now = time.Now
	}
	return &Timer{deadline: deadline, now: now}
}

func (t *Timer) Deadline() time.Time { return t.deadline }

// Remaining returns the time left, never negative.
func (t *Timer) Remaining() time.Duration {
	d := t.deadline.Sub(t.now())
	if d < 0 {
		return 0
	}
	return d
}

// Tick samples the timer. expired is true exactly once, on the first tick at
// or after the deadline.
func (t *Timer) Tick() (remaining time.Duration, expired bool) {
	remaining = t.Remaining()
	if remaining > 0 {
		return remaining, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired {
		return 0, false
	}
	t.fired = true
	return 0, true
}

// Run ticks every interval until the deadline passes or ctx is done. onTick
// receives the remaining time on every tick before expiry; onExpire runs once.
// The first tick happens immediately, so an already-elapsed deadline expires
// without waiting a full interval.
func (t *Timer) Run(ctx context.Context, interval time.Duration, onTick func(time.Duration), onExpire func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		remaining, expired := t.Tick()
		if expired {
			onExpire()
			return
		}
		if remaining == 0 {
			// Already fired elsewhere.
			return
		}
		if onTick != nil {
			onTick(remaining)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

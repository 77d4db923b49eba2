package examsession

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerExpiresExactlyOnce(t *testing.T) {
	clock := newFakeClock()
	timer := NewTimer(clock.Now().Add(2*time.Second), clock.Now)

	if rem, expired := timer.Tick(); expired || rem != 2*time.Second {
		t.Fatalf("Tick = (%s, %v), want (2s, false)", rem, expired)
	}

	clock.Advance(2 * time.Second)
	if _, expired := timer.Tick(); !expired {
		t.Fatal("expected expiry at the deadline")
	}
	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		if _, expired := timer.Tick(); expired {
			t.Fatal("expiry must be reported only once")
		}
	}
}

func TestTimerRecomputesAfterSuspension(t *testing.T) {
	clock := newFakeClock()
	timer := NewTimer(clock.Now().Add(10*time.Minute), clock.Now)

	// A laptop asleep for seven minutes misses every tick in between.
	clock.Advance(7 * time.Minute)
	if got := timer.Remaining(); got != 3*time.Minute {
		t.Errorf("Remaining = %s, want 3m", got)
	}

	clock.Advance(time.Hour)
	if got := timer.Remaining(); got != 0 {
		t.Errorf("Remaining past the deadline = %s, want 0", got)
	}
}

func TestTimerRunPastDeadlineFiresImmediately(t *testing.T) {
	clock := newFakeClock()
	timer := NewTimer(clock.Now().Add(-time.Second), clock.Now)

	var ticks, expiries atomic.Int32
	done := make(chan struct{})
	go func() {
		timer.Run(context.Background(), time.Hour, func(time.Duration) { ticks.Add(1) }, func() { expiries.Add(1) })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after expiry")
	}
	if expiries.Load() != 1 || ticks.Load() != 0 {
		t.Errorf("expiries = %d, ticks = %d; want 1, 0", expiries.Load(), ticks.Load())
	}
}

func TestTimerRunStopsOnCancel(t *testing.T) {
	clock := newFakeClock()
	timer := NewTimer(clock.Now().Add(time.Hour), clock.Now)

	ctx, cancel := context.WithCancel(context.Background())
	var expiries atomic.Int32
	done := make(chan struct{})
	go func() {
		timer.Run(ctx, time.Millisecond, nil, func() { expiries.Add(1) })
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if expiries.Load() != 0 {
		t.Error("cancelled timer must not expire")
	}
}

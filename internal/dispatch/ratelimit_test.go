package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock drives the windows' injected now/sleep so tests never block on
// real time.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return ctx.Err()
}

func (c *fakeClock) elapsed(since time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t.Sub(since)
}

func testWindows(perSecond, perMinute int, chatGap time.Duration) (*windows, *fakeClock) {
	clock := newFakeClock()
	w := newWindows(perSecond, perMinute, chatGap)
	w.now = clock.now
	w.sleep = clock.sleep
	return w, clock
}

func TestWindowsPerSecondCeiling(t *testing.T) {
	w, clock := testWindows(25, 1200, 0)
	start := clock.now()
	ctx := context.Background()

	// 30 sends queued at once against a 25/s ceiling: the first 25 go out
	// immediately, the rest wait for the next one-second window.
	for i := 0; i < 25; i++ {
		if err := w.reserve(ctx, int64(i)); err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
	}
	if got := clock.elapsed(start); got != 0 {
		t.Fatalf("first 25 sends took %v of window time, want 0", got)
	}

	for i := 25; i < 30; i++ {
		if err := w.reserve(ctx, int64(i)); err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
	}
	if got := clock.elapsed(start); got < time.Second {
		t.Fatalf("drained 30 sends in %v, want at least 1s beyond the first 25", got)
	}
}

func TestWindowsPerMinuteCeiling(t *testing.T) {
	w, clock := testWindows(1000, 5, 0)
	start := clock.now()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := w.reserve(ctx, int64(i)); err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
	}
	if err := w.reserve(ctx, 99); err != nil {
		t.Fatalf("reserve over minute ceiling: %v", err)
	}
	if got := clock.elapsed(start); got < time.Minute {
		t.Fatalf("6th send went out after %v, want a full minute window wait", got)
	}
}

func TestWindowsPerChatGap(t *testing.T) {
	w, clock := testWindows(100, 1000, time.Second)
	ctx := context.Background()

	if err := w.reserve(ctx, 7); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	mark := clock.now()

	// A different recipient is not gated by chat 7's gap.
	if err := w.reserve(ctx, 8); err != nil {
		t.Fatalf("other chat reserve: %v", err)
	}
	if got := clock.elapsed(mark); got != 0 {
		t.Fatalf("other chat waited %v, want 0", got)
	}

	// The same recipient must wait out the full gap.
	if err := w.reserve(ctx, 7); err != nil {
		t.Fatalf("same chat reserve: %v", err)
	}
	if got := clock.elapsed(mark); got < time.Second {
		t.Fatalf("same chat waited %v, want at least 1s", got)
	}
}

func TestWindowsLazyReset(t *testing.T) {
	w, clock := testWindows(2, 1000, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := w.reserve(ctx, int64(i)); err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
	}

	// Advance past the window boundary without reserving; the counter must
	// reset on the next attempt, not on a background timer.
	clock.mu.Lock()
	clock.t = clock.t.Add(1100 * time.Millisecond)
	clock.mu.Unlock()

	mark := clock.now()
	if err := w.reserve(ctx, 3); err != nil {
		t.Fatalf("reserve after boundary: %v", err)
	}
	if got := clock.elapsed(mark); got != 0 {
		t.Fatalf("reserve after window boundary waited %v, want 0", got)
	}
}

func TestReserveCancelled(t *testing.T) {
	w, _ := testWindows(1, 1000, 0)
	ctx, cancel := context.WithCancel(context.Background())

	if err := w.reserve(ctx, 1); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	cancel()
	if err := w.reserve(ctx, 2); err == nil {
		t.Fatal("reserve on a cancelled context must return its error")
	}
}

package dispatch

import (
	"context"
	"sync"
	"time"
)

// windows enforces the outbound throughput ceilings: a per-second counter, a
// per-minute counter, and a minimum inter-send gap per recipient. Counters
// reset lazily — checked on the next reservation, not timer-driven.
type windows struct {
	perSecond int
	perMinute int
	chatGap   time.Duration

	mu       sync.Mutex
	secStart time.Time
	secCount int
	minStart time.Time
	minCount int
	lastSend map[int64]time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newWindows(perSecond, perMinute int, chatGap time.Duration) *windows {
	return &windows{
		perSecond: perSecond,
		perMinute: perMinute,
		chatGap:   chatGap,
		lastSend:  make(map[int64]time.Time),
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// reserve blocks until both windows have headroom and the recipient's gap
// has elapsed, then accounts for one send. Returns early only when ctx is
// cancelled.
func (w *windows) reserve(ctx context.Context, chatID int64) error {
	for {
		wait, ok := w.tryReserve(chatID)
		if ok {
			return nil
		}
		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// tryReserve accounts for one send if headroom exists, otherwise returns how
// long to wait before the next attempt.
func (w *windows) tryReserve(chatID int64) (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()

	// Lazy window resets.
	if now.Sub(w.secStart) >= time.Second {
		w.secStart, w.secCount = now, 0
	}
	if now.Sub(w.minStart) >= time.Minute {
		w.minStart, w.minCount = now, 0
	}

	var wait time.Duration
	if w.secCount >= w.perSecond {
		wait = maxDuration(wait, w.secStart.Add(time.Second).Sub(now))
	}
	if w.minCount >= w.perMinute {
		wait = maxDuration(wait, w.minStart.Add(time.Minute).Sub(now))
	}
	if last, ok := w.lastSend[chatID]; ok {
		if gapLeft := last.Add(w.chatGap).Sub(now); gapLeft > 0 {
			wait = maxDuration(wait, gapLeft)
		}
	}
	if wait > 0 {
		return wait, false
	}

	w.secCount++
	w.minCount++
	w.lastSend[chatID] = now
	if len(w.lastSend) > 16384 {
		w.pruneLocked(now)
	}
	return 0, true
}

// pruneLocked drops per-recipient entries whose gap has long elapsed.
func (w *windows) pruneLocked(now time.Time) {
	cutoff := now.Add(-10 * w.chatGap)
	for id, at := range w.lastSend {
		if at.Before(cutoff) {
			delete(w.lastSend, id)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

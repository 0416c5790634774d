// Package dedup guards against duplicate reminder delivery. A mark exists
// only to prevent a double fire within one day, never across days; entries
// are purged after a full day's retention.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/minaretlabs/minaret/internal/prayer"
)

const (
	// retention keeps marks a full day — comfortably past the 24h window
	// the guarantee covers.
	retention     = 24 * time.Hour
	purgeInterval = 1 * time.Hour
)

// Key identifies one deliverable reminder: at most one send per key.
type Key struct {
	UserID int64
	Day    string // prayer.DayKeyFormat
	Prayer prayer.Name
	Kind   prayer.ReminderKind
}

// Tracker is a concurrency-safe check-and-mark map with bounded retention.
// Marks live in memory only; they are rebuilt as empty on restart, which is
// acceptable because timers are also rebuilt and fire at most once each.
type Tracker struct {
	mu    sync.Mutex
	marks map[Key]time.Time
	now   func() time.Time
}

// NewTracker creates a Tracker and starts its purge loop, which runs until
// ctx is cancelled.
func NewTracker(ctx context.Context) *Tracker {
	t := &Tracker{
		marks: make(map[Key]time.Time),
		now:   time.Now,
	}
	go t.purgeLoop(ctx)
	return t
}

// CheckAndMark atomically marks a key, returning true when the key was not
// already marked. Callers mark before sending, so a retried send can never
// produce a second delivery.
func (t *Tracker) CheckAndMark(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, seen := t.marks[key]; seen {
		return false
	}
	t.marks[key] = t.now()
	return true
}

// Len returns the number of live marks.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.marks)
}

func (t *Tracker) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.purge()
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tracker) purge() {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-retention)
	for key, at := range t.marks {
		if at.Before(cutoff) {
			delete(t.marks, key)
		}
	}
}

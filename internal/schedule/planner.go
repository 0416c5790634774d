// Package schedule plans and owns per-user reminder timers: a pure planner
// that turns a timing set and preferences into future trigger instants, and
// a registry that keeps one live timer set per armed user with a daily
// midnight rollover.
package schedule

import (
	"time"

	"github.com/minaretlabs/minaret/internal/prayer"
	"github.com/minaretlabs/minaret/internal/prefs"
)

// Trigger is one scheduled future reminder instant. Ephemeral — held only in
// the registry's live timer set, recreated daily, never persisted.
type Trigger struct {
	UserID   int64
	Prayer   prayer.Name
	Kind     prayer.ReminderKind
	FireAt   time.Time
	PrayerAt time.Time
	Day      string // prayer.DayKeyFormat
}

// Plan computes the ordered future triggers for one user's day. Pure and
// side-effect-free.
//
// One `before` trigger per enabled prayer, lead minutes ahead of the prayer
// instant; instants already past are silently omitted (no catch-up firing).
// The at-time kind is intentionally never emitted, even when NotifyAtTime is
// set — at most one reminder per prayer per day.
func Plan(set *prayer.TimingSet, p *prefs.Preferences, now time.Time) []Trigger {
	lead := time.Duration(p.LeadMinutes) * time.Minute

	var out []Trigger
	for _, name := range prayer.Reminders() {
		if !p.PrayerEnabled(name) {
			continue
		}
		at := set.Time(name)
		fireAt := at.Add(-lead)
		if !fireAt.After(now) {
			continue
		}
		out = append(out, Trigger{
			UserID:   p.UserID,
			Prayer:   name,
			Kind:     prayer.KindBefore,
			FireAt:   fireAt,
			PrayerAt: at,
			Day:      set.Date,
		})
	}
	return out
}

// NextRollover returns local midnight of the day after now in the given
// timezone — the instant at which a user's schedule is re-planned.
func NextRollover(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

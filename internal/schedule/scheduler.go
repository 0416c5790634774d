package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/minaretlabs/minaret/internal/dedup"
	"github.com/minaretlabs/minaret/internal/dispatch"
	"github.com/minaretlabs/minaret/internal/prayer"
	"github.com/minaretlabs/minaret/internal/prefs"
)

// rearmTimeout bounds the resolver work done from a rollover callback.
const rearmTimeout = 30 * time.Second

// ErrSchedulingSkipped signals the resolver failed during arm; the user is
// left unscheduled and retried at the next rollover or manual trigger.
var ErrSchedulingSkipped = errors.New("scheduling skipped: resolver failed")

// TimingResolver is the resolution contract the registry arms against.
type TimingResolver interface {
	Resolve(ctx context.Context, lat, lon float64, date time.Time, method, school int) (*prayer.TimingSet, error)
}

// Enqueuer accepts ready-to-send reminders.
type Enqueuer interface {
	Enqueue(msg dispatch.Message) error
}

// PrefsDisabler persists enabled=false for terminally unreachable users.
type PrefsDisabler interface {
	Disable(ctx context.Context, userID int64) error
}

// userEntry is one armed user's live timer set.
type userEntry struct {
	prefs  *prefs.Preferences
	timers []*time.Timer
	gen    uint64
}

// Registry owns every live timer. It is the only mutator of the timer map:
// constructed at process start, torn down by Shutdown with guaranteed
// cancellation of all entries.
type Registry struct {
	resolver   TimingResolver
	tracker    *dedup.Tracker
	dispatcher Enqueuer
	prefStore  PrefsDisabler
	logger     *slog.Logger

	mu      sync.Mutex
	users   map[int64]*userEntry
	nextGen uint64
	closed  bool

	now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(resolver TimingResolver, tracker *dedup.Tracker, dispatcher Enqueuer, prefStore PrefsDisabler, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		resolver:   resolver,
		tracker:    tracker,
		dispatcher: dispatcher,
		prefStore:  prefStore,
		logger:     logger,
		users:      make(map[int64]*userEntry),
		now:        time.Now,
	}
}

// Arm (re)plans a user's day: resolves today's timings, plans triggers, and
// atomically replaces the user's live timer set with one timer per trigger
// plus the midnight rollover timer.
//
// A resolver failure leaves the user unscheduled (ErrSchedulingSkipped); the
// caller's process must treat that as degraded, never fatal.
func (r *Registry) Arm(ctx context.Context, p *prefs.Preferences) error {
	if !p.Enabled {
		r.Disable(p.UserID)
		return nil
	}

	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return fmt.Errorf("arm user=%d: timezone %q: %w", p.UserID, p.Timezone, err)
	}

	now := r.now()
	set, err := r.resolver.Resolve(ctx, p.Lat, p.Lon, now.In(loc), p.Method, p.School)
	if err != nil {
		r.Disable(p.UserID) // no stale timers while unscheduled
		return fmt.Errorf("%w: user=%d: %v", ErrSchedulingSkipped, p.UserID, err)
	}

	triggers := Plan(set, p, now)
	rolloverAt := NextRollover(now, loc)
	r.install(p, triggers, rolloverAt)

	r.logger.Info("User armed",
		"user_id", p.UserID, "day", set.Date,
		"provenance", set.Provenance.String(),
		"triggers", len(triggers), "rollover", rolloverAt)
	return nil
}

// install atomically cancels any previous timer set for the user and
// registers the new one. Stale timers that squeeze through cancellation are
// rejected in fire() by generation check.
func (r *Registry) install(p *prefs.Preferences, triggers []Trigger, rolloverAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.cancelLocked(p.UserID)

	r.nextGen++
	gen := r.nextGen
	entry := &userEntry{prefs: p, gen: gen}

	for _, tr := range triggers {
		tr := tr
		entry.timers = append(entry.timers,
			time.AfterFunc(tr.FireAt.Sub(r.now()), func() { r.fire(tr, gen) }))
	}
	userID := p.UserID
	entry.timers = append(entry.timers,
		time.AfterFunc(rolloverAt.Sub(r.now()), func() { r.rollover(userID, gen) }))

	r.users[userID] = entry
}

// fire is the timer callback for one trigger: dedup check-and-mark first,
// then hand the rendered reminder to the dispatcher. Marking before sending
// prevents duplicate delivery if the send is retried.
func (r *Registry) fire(tr Trigger, gen uint64) {
	r.mu.Lock()
	entry, ok := r.users[tr.UserID]
	stale := !ok || entry.gen != gen
	var p *prefs.Preferences
	if !stale {
		p = entry.prefs
	}
	r.mu.Unlock()
	if stale {
		return
	}

	key := dedup.Key{UserID: tr.UserID, Day: tr.Day, Prayer: tr.Prayer, Kind: tr.Kind}
	if !r.tracker.CheckAndMark(key) {
		r.logger.Info("Duplicate trigger dropped",
			"user_id", tr.UserID, "prayer", tr.Prayer.String(), "day", tr.Day)
		return
	}

	msg := dispatch.Message{
		UserID: tr.UserID,
		ChatID: tr.UserID, // bot direct messages: chat id == user id
		Text:   renderReminder(tr, p),
		Prayer: tr.Prayer,
		Kind:   tr.Kind,
		Day:    tr.Day,
	}
	if err := r.dispatcher.Enqueue(msg); err != nil {
		r.logger.Error("Failed to enqueue reminder",
			"user_id", tr.UserID, "prayer", tr.Prayer.String(), "error", err)
	}
}

// rollover re-enters Arm for the new day using the user's current
// preferences.
func (r *Registry) rollover(userID int64, gen uint64) {
	r.mu.Lock()
	entry, ok := r.users[userID]
	stale := !ok || entry.gen != gen
	var p *prefs.Preferences
	if !stale {
		p = entry.prefs
	}
	r.mu.Unlock()
	if stale {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), rearmTimeout)
	defer cancel()
	if err := r.Arm(ctx, p); err != nil {
		r.logger.Error("Rollover re-arm failed, user unscheduled until next retry",
			"user_id", userID, "error", err)
	}
}

// Disable cancels the user's live timers and removes them from the registry.
func (r *Registry) Disable(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLocked(userID)
}

// UpdatePreferences applies a replaced preference document: cancel current
// timers, then re-arm when still enabled.
func (r *Registry) UpdatePreferences(ctx context.Context, p *prefs.Preferences) error {
	if !p.Enabled {
		r.Disable(p.UserID)
		return nil
	}
	return r.Arm(ctx, p)
}

// UpdateLocation applies a location change. The location lives in the
// preference document, so this is the same replan path.
func (r *Registry) UpdateLocation(ctx context.Context, p *prefs.Preferences) error {
	return r.UpdatePreferences(ctx, p)
}

// HandleTerminal reacts to a recipient-blocked delivery failure: cancel the
// user's timers and persist enabled=false so a restart never re-arms a dead
// recipient. Wired as the dispatcher's terminal handler.
func (r *Registry) HandleTerminal(ctx context.Context, msg dispatch.Message, sendErr error) {
	r.Disable(msg.UserID)
	if err := r.prefStore.Disable(ctx, msg.UserID); err != nil {
		r.logger.Error("Failed to persist reminder disable",
			"user_id", msg.UserID, "error", err)
		return
	}
	r.logger.Info("User reminders disabled after terminal delivery failure",
		"user_id", msg.UserID, "error", sendErr)
}

// Armed reports whether a user currently holds a live timer set.
func (r *Registry) Armed(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[userID]
	return ok
}

// ArmedCount returns the number of armed users.
func (r *Registry) ArmedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// Shutdown cancels every live timer and rejects all further arming.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for userID := range r.users {
		r.cancelLocked(userID)
	}
	r.logger.Info("Scheduler registry shut down")
}

func (r *Registry) cancelLocked(userID int64) {
	entry, ok := r.users[userID]
	if !ok {
		return
	}
	for _, t := range entry.timers {
		t.Stop()
	}
	delete(r.users, userID)
}

// renderReminder builds the outbound reminder text.
func renderReminder(tr Trigger, p *prefs.Preferences) string {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		loc = time.UTC
	}
	at := tr.PrayerAt.In(loc).Format("15:04")
	switch tr.Kind {
	case prayer.KindBefore:
		return fmt.Sprintf("🕌 %s is in %d minutes (%s)", tr.Prayer, p.LeadMinutes, at)
	case prayer.KindAtTime:
		return fmt.Sprintf("🕌 It is time for %s (%s)", tr.Prayer, at)
	default:
		return fmt.Sprintf("🕌 %s at %s", tr.Prayer, at)
	}
}

// Package resolver turns (coordinates, date, calculation settings) into a
// canonical TimingSet using a tiered data-resolution policy:
//
//  1. authoritative stored record (exact key + date, never recomputed)
//  2. curated monthly-table entry for a registered location
//  3. manual static override, when enabled for a registered location
//  4. live calculation service, with non-blocking write-through to tier 1
//  5. degraded fallback: most recent record for the key, then for any key
//     within a 0.5° bounding box, marked stale — else a hard failure
//
// Every tier's output is gated by the timing-set monotonicity invariant;
// an invalid set falls through to the next tier and is never returned.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/minaretlabs/minaret/internal/prayer"
	"github.com/minaretlabs/minaret/internal/timestore"
)

// fallbackBoxDegrees is the half-width of the stale-fallback bounding box.
const fallbackBoxDegrees = 0.5

// ErrResolutionUnavailable is returned when every tier is exhausted. Callers
// must never substitute another location's data for it.
var ErrResolutionUnavailable = errors.New("timing resolution unavailable: all tiers exhausted")

// TimingStore is the query contract the durable store must satisfy.
// All reads report absence as (nil, nil).
type TimingStore interface {
	Get(ctx context.Context, key prayer.LocationKey, day string) (*prayer.TimingSet, error)
	Upsert(ctx context.Context, set *prayer.TimingSet, lat, lon float64) error
	MostRecent(ctx context.Context, key prayer.LocationKey) (*prayer.TimingSet, error)
	MostRecentNear(ctx context.Context, minLat, maxLat, minLon, maxLon float64) (*prayer.TimingSet, error)
	LocationByCoords(ctx context.Context, lat, lon float64) (*timestore.Location, error)
	MonthlyTiming(ctx context.Context, locationID int, day string) (*prayer.TimingSet, error)
	StaticTiming(ctx context.Context, locationID int) (*timestore.WallTimes, error)
}

// CalcService is the remote calculation-service contract.
type CalcService interface {
	Timings(ctx context.Context, lat, lon float64, date time.Time, method, school, midnightMode int) (*prayer.TimingSet, error)
	HijriDate(ctx context.Context, date time.Time) (string, error)
}

// Resolver resolves timing sets. Pure function of its inputs plus store
// state; it owns no timers.
type Resolver struct {
	store        TimingStore
	calc         CalcService
	midnightMode int
	logger       *slog.Logger

	// Write-through failures surface here, drained by a logging goroutine.
	writeErrs chan error
}

// New creates a Resolver and starts the write-through error drain, which
// runs until ctx is cancelled.
func New(ctx context.Context, store TimingStore, calc CalcService, midnightMode int, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		store:        store,
		calc:         calc,
		midnightMode: midnightMode,
		logger:       logger,
		writeErrs:    make(chan error, 16),
	}
	go r.drainWriteErrors(ctx)
	return r
}

// Resolve returns a valid TimingSet for the point and date, or
// ErrResolutionUnavailable. The Hijri date is resolved independently and its
// failure degrades to an empty marker rather than blocking resolution.
func (r *Resolver) Resolve(ctx context.Context, lat, lon float64, date time.Time, method, school int) (*prayer.TimingSet, error) {
	key := prayer.KeyFor(lat, lon)
	day := prayer.DayKey(date)

	// Tier 1: authoritative stored record — ground truth, never recomputed.
	if set, err := r.store.Get(ctx, key, day); err != nil {
		r.logger.Warn("authoritative tier read failed", "key", key, "day", day, "error", err)
	} else if r.usable(set) {
		return r.withHijri(ctx, set, date), nil
	}

	// Tiers 2 and 3 apply only to registered locations.
	loc, err := r.store.LocationByCoords(ctx, lat, lon)
	if err != nil {
		r.logger.Warn("location lookup failed", "key", key, "error", err)
	}
	if loc != nil {
		// Tier 2: curated monthly table.
		if set, err := r.store.MonthlyTiming(ctx, loc.ID, day); err != nil {
			r.logger.Warn("monthly tier read failed", "location", loc.ID, "day", day, "error", err)
		} else if set != nil {
			set.Key = key
			set.Method = method
			set.School = school
			if r.usable(set) {
				return r.withHijri(ctx, set, date), nil
			}
		}

		// Tier 3: manual static override, only when explicitly enabled.
		if loc.OverrideEnabled {
			if wt, err := r.store.StaticTiming(ctx, loc.ID); err != nil {
				r.logger.Warn("static tier read failed", "location", loc.ID, "error", err)
			} else if wt != nil {
				set, err := staticSet(wt, key, date, loc.Timezone, method, school)
				if err != nil {
					r.logger.Warn("static tier unusable", "location", loc.ID, "error", err)
				} else if r.usable(set) {
					return r.withHijri(ctx, set, date), nil
				}
			}
		}
	}

	// Tier 4: live calculation service, with non-blocking write-through.
	set, liveErr := r.calc.Timings(ctx, lat, lon, date, method, school, r.midnightMode)
	if liveErr == nil {
		if err := set.Validate(); err != nil {
			liveErr = fmt.Errorf("live service returned invalid set: %w", err)
		} else {
			r.writeThrough(set, lat, lon)
			return set, nil
		}
	}
	r.logger.Warn("live tier failed, degrading", "key", key, "day", day, "error", liveErr)

	// Tier 5a: most recent record for the exact key, marked stale. The
	// record's Hijri date belongs to its own day, not the requested one.
	if old, err := r.store.MostRecent(ctx, key); err != nil {
		r.logger.Warn("stale fallback read failed", "key", key, "error", err)
	} else if r.usable(old) {
		old.Provenance = prayer.ProvStaleFallback
		old.HijriDate = ""
		return r.withHijri(ctx, old, date), nil
	}

	// Tier 5b: most recent record within the bounding box, marked stale.
	if old, err := r.store.MostRecentNear(ctx,
		lat-fallbackBoxDegrees, lat+fallbackBoxDegrees,
		lon-fallbackBoxDegrees, lon+fallbackBoxDegrees); err != nil {
		r.logger.Warn("stale box fallback read failed", "key", key, "error", err)
	} else if r.usable(old) {
		old.Provenance = prayer.ProvStaleFallback
		old.HijriDate = ""
		return r.withHijri(ctx, old, date), nil
	}

	// Tier 5c: hard failure.
	return nil, fmt.Errorf("%w (key=%s day=%s)", ErrResolutionUnavailable, key, day)
}

// usable reports whether a set exists and satisfies the monotonicity
// invariant. Invalid sets are logged and treated as absent.
func (r *Resolver) usable(set *prayer.TimingSet) bool {
	if set == nil {
		return false
	}
	if err := set.Validate(); err != nil {
		r.logger.Warn("discarding invalid timing set", "provenance", set.Provenance.String(), "error", err)
		return false
	}
	return true
}

// withHijri fills a missing Hijri date via its own remote lookup. Lookup
// failure leaves the marker empty — it never fails the resolution.
func (r *Resolver) withHijri(ctx context.Context, set *prayer.TimingSet, date time.Time) *prayer.TimingSet {
	if set.HijriDate != "" {
		return set
	}
	h, err := r.calc.HijriDate(ctx, date)
	if err != nil {
		r.logger.Warn("hijri lookup failed", "day", set.Date, "error", err)
		return set
	}
	set.HijriDate = h
	return set
}

// writeThrough persists a live-service result into the authoritative tier in
// the background. Failure is reported on the error channel, never to the
// caller.
func (r *Resolver) writeThrough(set *prayer.TimingSet, lat, lon float64) {
	copied := *set
	copied.Provenance = prayer.ProvAuthoritative
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.store.Upsert(ctx, &copied, lat, lon); err != nil {
			select {
			case r.writeErrs <- fmt.Errorf("write-through %s/%s: %w", copied.Key, copied.Date, err):
			default: // channel full: drop rather than block the writer
			}
		}
	}()
}

func (r *Resolver) drainWriteErrors(ctx context.Context) {
	for {
		select {
		case err := <-r.writeErrs:
			r.logger.Error("timing write-through failed", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

// staticSet expands published wall-clock times onto a calendar date in the
// location's timezone.
func staticSet(wt *timestore.WallTimes, key prayer.LocationKey, date time.Time, timezone string, method, school int) (*prayer.TimingSet, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", timezone, err)
	}
	set := &prayer.TimingSet{
		Key:        key,
		Date:       prayer.DayKey(date),
		Method:     method,
		School:     school,
		Provenance: prayer.ProvManualStatic,
	}
	day := date.In(loc)
	for _, f := range []struct {
		raw  string
		dst  *time.Time
		name prayer.Name
	}{
		{wt.Fajr, &set.Fajr, prayer.Fajr},
		{wt.Sunrise, &set.Sunrise, prayer.Sunrise},
		{wt.Dhuhr, &set.Dhuhr, prayer.Dhuhr},
		{wt.Asr, &set.Asr, prayer.Asr},
		{wt.Maghrib, &set.Maghrib, prayer.Maghrib},
		{wt.Isha, &set.Isha, prayer.Isha},
	} {
		t, err := time.Parse("15:04", f.raw)
		if err != nil {
			return nil, fmt.Errorf("static %s time %q: %w", f.name, f.raw, err)
		}
		*f.dst = time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc)
	}
	return set, nil
}

// Package maintenance runs periodic background tasks as Go tickers: a
// catch-up sweep that re-arms enabled users who lost their timers (resolver
// failure at rollover, missed NOTIFY events), and a purge of old timing
// records.
package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/minaretlabs/minaret/internal/prayer"
	"github.com/minaretlabs/minaret/internal/prefs"
	"github.com/minaretlabs/minaret/internal/schedule"
)

// PrefsLister enumerates the users the catch-up sweep considers.
type PrefsLister interface {
	AllEnabled(ctx context.Context) ([]*prefs.Preferences, error)
}

// Rearmer is the scheduler surface the sweep drives.
type Rearmer interface {
	Armed(userID int64) bool
	Arm(ctx context.Context, p *prefs.Preferences) error
}

// RecordPurger deletes timing records older than a day cutoff.
type RecordPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff string) (int64, error)
}

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	CatchUpInterval time.Duration // Re-arm sweep for unscheduled enabled users
	PurgeInterval   time.Duration // Old timing-record cleanup
	RetainDays      int           // Timing records younger than this survive purge
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		CatchUpInterval: 1 * time.Hour,
		PurgeInterval:   24 * time.Hour,
		RetainDays:      400,
	}
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, cfg Config, prefStore PrefsLister, registry Rearmer,
	store RecordPurger, logger *slog.Logger) {
	logger.Info("Maintenance tickers started",
		"catchup", cfg.CatchUpInterval,
		"purge", cfg.PurgeInterval)

	tickers := make([]*time.Ticker, 0, 2)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	if cfg.CatchUpInterval > 0 {
		t := time.NewTicker(cfg.CatchUpInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { catchUpSweep(ctx, prefStore, registry, logger) })
	}

	if cfg.PurgeInterval > 0 {
		t := time.NewTicker(cfg.PurgeInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { purgeOldRecords(ctx, store, cfg.RetainDays, logger) })
	}

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

// catchUpSweep re-arms every enabled user with no live timer set. A user
// whose arm failed (resolver outage) stays unscheduled only until the next
// sweep.
func catchUpSweep(ctx context.Context, prefStore PrefsLister, registry Rearmer, logger *slog.Logger) {
	enabled, err := prefStore.AllEnabled(ctx)
	if err != nil {
		logger.Warn("Catch-up sweep: failed to list enabled users", "error", err)
		return
	}

	rearmed := 0
	for _, p := range enabled {
		if registry.Armed(p.UserID) {
			continue
		}
		if err := registry.Arm(ctx, p); err != nil {
			if errors.Is(err, schedule.ErrSchedulingSkipped) {
				logger.Warn("Catch-up sweep: user still unschedulable",
					"user_id", p.UserID, "error", err)
				continue
			}
			logger.Error("Catch-up sweep: arm failed", "user_id", p.UserID, "error", err)
			continue
		}
		rearmed++
	}
	if rearmed > 0 {
		logger.Info("Catch-up sweep: re-armed users", "count", rearmed)
	}
}

// purgeOldRecords removes timing records older than the retention window.
func purgeOldRecords(ctx context.Context, store RecordPurger, retainDays int, logger *slog.Logger) {
	cutoff := prayer.DayKey(time.Now().UTC().AddDate(0, 0, -retainDays))
	removed, err := store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		logger.Warn("Purge: failed to remove old timing records", "error", err)
		return
	}
	if removed > 0 {
		logger.Info("Purge: removed old timing records", "count", removed, "cutoff", cutoff)
	}
}

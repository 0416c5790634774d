// Package timestore implements the durable timing-record store: one record
// per (location key, calendar date) plus the registered-location tables that
// back the monthly-table and manual-static resolution tiers.
//
// Every read tolerates absence — a missing row is (nil, nil), never an error.
package timestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/minaretlabs/minaret/internal/prayer"
)

// Store provides timing-record persistence over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --------------------------------------------------------------------------
// Authoritative tier
// --------------------------------------------------------------------------

// Get returns the stored record for (key, day), or nil when absent.
func (s *Store) Get(ctx context.Context, key prayer.LocationKey, day string) (*prayer.TimingSet, error) {
	set, err := s.scanOne(s.pool.QueryRow(ctx, "timing_get", string(key), day))
	if err != nil {
		return nil, fmt.Errorf("get timing %s/%s: %w", key, day, err)
	}
	return set, nil
}

// MostRecent returns the newest stored record for the exact key regardless
// of date, or nil when the key has never been stored.
func (s *Store) MostRecent(ctx context.Context, key prayer.LocationKey) (*prayer.TimingSet, error) {
	set, err := s.scanOne(s.pool.QueryRow(ctx, "timing_most_recent", string(key)))
	if err != nil {
		return nil, fmt.Errorf("most recent timing %s: %w", key, err)
	}
	return set, nil
}

// MostRecentNear returns the newest stored record inside a bounding box,
// or nil when the box is empty.
func (s *Store) MostRecentNear(ctx context.Context, minLat, maxLat, minLon, maxLon float64) (*prayer.TimingSet, error) {
	set, err := s.scanOne(s.pool.QueryRow(ctx, "timing_most_recent_near", minLat, maxLat, minLon, maxLon))
	if err != nil {
		return nil, fmt.Errorf("most recent timing near box: %w", err)
	}
	return set, nil
}

// Upsert writes a record keyed by (location key, date). Concurrent writers
// for the same key are safe — last write wins on conflict.
func (s *Store) Upsert(ctx context.Context, set *prayer.TimingSet, lat, lon float64) error {
	var midnight *time.Time
	if !set.Midnight.IsZero() {
		midnight = &set.Midnight
	}
	_, err := s.pool.Exec(ctx, "timing_upsert",
		string(set.Key), set.Date, lat, lon,
		set.Fajr, set.Sunrise, set.Dhuhr, set.Asr, set.Maghrib, set.Isha,
		midnight, set.Method, set.School, nullable(set.HijriDate),
	)
	if err != nil {
		return fmt.Errorf("upsert timing %s/%s: %w", set.Key, set.Date, err)
	}
	return nil
}

// PurgeOlderThan deletes records whose day precedes cutoff (DayKeyFormat).
// Returns the number of rows removed.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff string) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM timing_records WHERE day < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge timing records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --------------------------------------------------------------------------
// Registered locations (monthly-table and manual-static tiers)
// --------------------------------------------------------------------------

// Location is a human-registered site with curated schedules.
type Location struct {
	ID              int
	Timezone        string
	OverrideEnabled bool
}

// LocationByCoords returns the registered location whose rounded coordinates
// match (lat, lon), or nil when the point is not a registered site.
func (s *Store) LocationByCoords(ctx context.Context, lat, lon float64) (*Location, error) {
	var loc Location
	err := s.pool.QueryRow(ctx, "location_by_coords", lat, lon).
		Scan(&loc.ID, &loc.Timezone, &loc.OverrideEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("location by coords: %w", err)
	}
	return &loc, nil
}

// MonthlyTiming returns the curated monthly-table entry for a location and
// day, or nil when no entry exists.
func (s *Store) MonthlyTiming(ctx context.Context, locationID int, day string) (*prayer.TimingSet, error) {
	set := &prayer.TimingSet{Date: day, Provenance: prayer.ProvMonthlyTable}
	err := s.pool.QueryRow(ctx, "monthly_timing_get", locationID, day).
		Scan(&set.Fajr, &set.Sunrise, &set.Dhuhr, &set.Asr, &set.Maghrib, &set.Isha)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("monthly timing loc=%d day=%s: %w", locationID, day, err)
	}
	return set, nil
}

// WallTimes are published wall-clock times ("15:04") with no date attached.
type WallTimes struct {
	Fajr, Sunrise, Dhuhr, Asr, Maghrib, Isha string
}

// StaticTiming returns the fixed published schedule for a location, or nil
// when none is recorded.
func (s *Store) StaticTiming(ctx context.Context, locationID int) (*WallTimes, error) {
	var wt WallTimes
	err := s.pool.QueryRow(ctx, "static_timing_get", locationID).
		Scan(&wt.Fajr, &wt.Sunrise, &wt.Dhuhr, &wt.Asr, &wt.Maghrib, &wt.Isha)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("static timing loc=%d: %w", locationID, err)
	}
	return &wt, nil
}

// --------------------------------------------------------------------------
// Scan helpers
// --------------------------------------------------------------------------

// scanOne scans a timing_records row. Absence maps to (nil, nil).
func (s *Store) scanOne(row pgx.Row) (*prayer.TimingSet, error) {
	var (
		set      prayer.TimingSet
		key      string
		lat, lon float64
		midnight *time.Time
		hijri    *string
	)
	err := row.Scan(&key, &set.Date, &lat, &lon,
		&set.Fajr, &set.Sunrise, &set.Dhuhr, &set.Asr, &set.Maghrib, &set.Isha,
		&midnight, &set.Method, &set.School, &hijri)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	set.Key = prayer.LocationKey(key)
	set.Provenance = prayer.ProvAuthoritative
	if midnight != nil {
		set.Midnight = *midnight
	}
	if hijri != nil {
		set.HijriDate = *hijri
	}
	return &set, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

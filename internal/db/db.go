// Package db provides a pgxpool-based connection pool with prepared statement
// registration and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/minaretlabs/minaret/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// registerPreparedStatements registers all statements the resolver, scheduler
// and preferences layers use. Prepared statements eliminate parse overhead on
// every request.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Timing records (authoritative tier)
		"timing_get": `
			SELECT location_key, day, lat, lon, fajr, sunrise, dhuhr, asr, maghrib, isha,
			       midnight, method, school, hijri_date
			FROM timing_records WHERE location_key = $1 AND day = $2`,
		"timing_most_recent": `
			SELECT location_key, day, lat, lon, fajr, sunrise, dhuhr, asr, maghrib, isha,
			       midnight, method, school, hijri_date
			FROM timing_records WHERE location_key = $1
			ORDER BY day DESC LIMIT 1`,
		"timing_most_recent_near": `
			SELECT location_key, day, lat, lon, fajr, sunrise, dhuhr, asr, maghrib, isha,
			       midnight, method, school, hijri_date
			FROM timing_records
			WHERE lat BETWEEN $1 AND $2 AND lon BETWEEN $3 AND $4
			ORDER BY day DESC LIMIT 1`,
		"timing_upsert": `
			INSERT INTO timing_records (
				location_key, day, lat, lon, fajr, sunrise, dhuhr, asr, maghrib, isha,
				midnight, method, school, hijri_date, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW())
			ON CONFLICT (location_key, day) DO UPDATE SET
				fajr = EXCLUDED.fajr, sunrise = EXCLUDED.sunrise,
				dhuhr = EXCLUDED.dhuhr, asr = EXCLUDED.asr,
				maghrib = EXCLUDED.maghrib, isha = EXCLUDED.isha,
				midnight = EXCLUDED.midnight, method = EXCLUDED.method,
				school = EXCLUDED.school, hijri_date = EXCLUDED.hijri_date`,

		// Registered locations (monthly-table and manual-static tiers)
		"location_by_coords": `
			SELECT id, timezone, override_enabled FROM locations
			WHERE round(lat::numeric, 4) = round($1::numeric, 4)
			  AND round(lon::numeric, 4) = round($2::numeric, 4)`,
		"monthly_timing_get": `
			SELECT fajr, sunrise, dhuhr, asr, maghrib, isha
			FROM monthly_timings WHERE location_id = $1 AND day = $2`,
		"static_timing_get": `
			SELECT fajr, sunrise, dhuhr, asr, maghrib, isha
			FROM static_timings WHERE location_id = $1`,

		// Reminder preferences
		"prefs_get": `
			SELECT user_id, enabled, lead_minutes, notify_at_time,
			       fajr, dhuhr, asr, maghrib, isha,
			       lat, lon, method, school, timezone
			FROM reminder_prefs WHERE user_id = $1`,
		"prefs_enabled_all": `
			SELECT user_id, enabled, lead_minutes, notify_at_time,
			       fajr, dhuhr, asr, maghrib, isha,
			       lat, lon, method, school, timezone
			FROM reminder_prefs WHERE enabled = true`,
		"prefs_upsert": `
			INSERT INTO reminder_prefs (
				user_id, enabled, lead_minutes, notify_at_time,
				fajr, dhuhr, asr, maghrib, isha,
				lat, lon, method, school, timezone, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW())
			ON CONFLICT (user_id) DO UPDATE SET
				enabled = EXCLUDED.enabled, lead_minutes = EXCLUDED.lead_minutes,
				notify_at_time = EXCLUDED.notify_at_time,
				fajr = EXCLUDED.fajr, dhuhr = EXCLUDED.dhuhr, asr = EXCLUDED.asr,
				maghrib = EXCLUDED.maghrib, isha = EXCLUDED.isha,
				lat = EXCLUDED.lat, lon = EXCLUDED.lon,
				method = EXCLUDED.method, school = EXCLUDED.school,
				timezone = EXCLUDED.timezone, updated_at = NOW()`,
		"prefs_disable": `
			UPDATE reminder_prefs SET enabled = false, updated_at = NOW()
			WHERE user_id = $1`,

		// Settings (read-only key/value defaults)
		"setting_get": "SELECT value FROM settings WHERE key = $1",
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}

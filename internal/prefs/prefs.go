// Package prefs manages per-user reminder preferences: the single persisted
// document the scheduler rebuilds its timer sets from on restart.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/minaretlabs/minaret/internal/config"
	"github.com/minaretlabs/minaret/internal/prayer"
)

// Preferences is one user's reminder configuration.
type Preferences struct {
	UserID       int64
	Enabled      bool
	LeadMinutes  int
	NotifyAtTime bool // carried in the model; the planner never consults it

	// Per-prayer enable flags.
	Fajr, Dhuhr, Asr, Maghrib, Isha bool

	// Location and calculation settings.
	Lat, Lon float64
	Method   int
	School   int
	Timezone string
}

// PrayerEnabled reports whether reminders are on for a prayer. Sunrise is
// never a reminder target.
func (p *Preferences) PrayerEnabled(n prayer.Name) bool {
	switch n {
	case prayer.Fajr:
		return p.Fajr
	case prayer.Dhuhr:
		return p.Dhuhr
	case prayer.Asr:
		return p.Asr
	case prayer.Maghrib:
		return p.Maghrib
	case prayer.Isha:
		return p.Isha
	case prayer.Sunrise:
		return false
	default:
		return false
	}
}

// Validate checks the fields the settings surface is allowed to store.
func (p *Preferences) Validate() error {
	if !config.ValidLeadMinutes(p.LeadMinutes) {
		return fmt.Errorf("lead minutes %d: must be one of %v", p.LeadMinutes, config.LeadMinuteChoices)
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("coordinates (%.4f, %.4f) out of range", p.Lat, p.Lon)
	}
	if p.Timezone == "" {
		return fmt.Errorf("timezone is required")
	}
	return nil
}

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists preference documents, one per user.
type Store struct {
	pool DB
	cfg  *config.Config
}

// NewStore creates a preferences store.
func NewStore(pool DB, cfg *config.Config) *Store {
	return &Store{pool: pool, cfg: cfg}
}

// Get returns a user's preferences, or nil when the user has none yet.
func (s *Store) Get(ctx context.Context, userID int64) (*Preferences, error) {
	p, err := scanPrefs(s.pool.QueryRow(ctx, "prefs_get", userID))
	if err != nil {
		return nil, fmt.Errorf("get prefs user=%d: %w", userID, err)
	}
	return p, nil
}

// Replace is the single preferences-replace operation used by the settings
// collaborator. It upserts the whole document.
func (s *Store) Replace(ctx context.Context, p *Preferences) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("replace prefs user=%d: %w", p.UserID, err)
	}
	_, err := s.pool.Exec(ctx, "prefs_upsert",
		p.UserID, p.Enabled, p.LeadMinutes, p.NotifyAtTime,
		p.Fajr, p.Dhuhr, p.Asr, p.Maghrib, p.Isha,
		p.Lat, p.Lon, p.Method, p.School, p.Timezone,
	)
	if err != nil {
		return fmt.Errorf("replace prefs user=%d: %w", p.UserID, err)
	}
	return nil
}

// Disable persists enabled=false so a restart never re-arms the user.
// Used when a recipient blocks the sender.
func (s *Store) Disable(ctx context.Context, userID int64) error {
	_, err := s.pool.Exec(ctx, "prefs_disable", userID)
	if err != nil {
		return fmt.Errorf("disable prefs user=%d: %w", userID, err)
	}
	return nil
}

// AllEnabled returns every user with reminders enabled. Called at startup to
// rebuild the live timer sets.
func (s *Store) AllEnabled(ctx context.Context) ([]*Preferences, error) {
	rows, err := s.pool.Query(ctx, "prefs_enabled_all")
	if err != nil {
		return nil, fmt.Errorf("list enabled prefs: %w", err)
	}
	defer rows.Close()

	var out []*Preferences
	for rows.Next() {
		p, err := scanPrefs(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prefs: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Defaults builds the preference document created when a user first enables
// reminders: settings-table values where present, config defaults otherwise.
func (s *Store) Defaults(ctx context.Context, userID int64, lat, lon float64, timezone string) *Preferences {
	if timezone == "" {
		timezone = s.cfg.DefaultTimezone
	}
	return &Preferences{
		UserID:      userID,
		Enabled:     true,
		LeadMinutes: s.settingInt(ctx, "default_lead_minutes", s.cfg.DefaultLeadMinutes),
		Fajr:        true,
		Dhuhr:       true,
		Asr:         true,
		Maghrib:     true,
		Isha:        true,
		Lat:         lat,
		Lon:         lon,
		Method:      s.settingInt(ctx, "default_method", s.cfg.DefaultMethod),
		School:      s.settingInt(ctx, "default_school", s.cfg.DefaultSchool),
		Timezone:    timezone,
	}
}

// settingInt reads an integer from the read-only settings collaborator,
// falling back when the key is absent or malformed.
func (s *Store) settingInt(ctx context.Context, key string, fallback int) int {
	var value string
	err := s.pool.QueryRow(ctx, "setting_get", key).Scan(&value)
	if err != nil {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func scanPrefs(row pgx.Row) (*Preferences, error) {
	var p Preferences
	err := row.Scan(&p.UserID, &p.Enabled, &p.LeadMinutes, &p.NotifyAtTime,
		&p.Fajr, &p.Dhuhr, &p.Asr, &p.Maghrib, &p.Isha,
		&p.Lat, &p.Lon, &p.Method, &p.School, &p.Timezone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

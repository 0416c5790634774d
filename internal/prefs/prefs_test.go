package prefs

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/minaretlabs/minaret/internal/config"
	"github.com/minaretlabs/minaret/internal/prayer"
)

// fakeRow scans a single string value, or fails.
type fakeRow struct {
	value string
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*string)) = r.value
	return nil
}

// fakeDB serves the settings key/value lookups; everything else is absent.
type fakeDB struct {
	settings map[string]string
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, pgx.ErrNoRows
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if key, ok := args[0].(string); ok {
		if v, found := f.settings[key]; found {
			return fakeRow{value: v}
		}
	}
	return fakeRow{err: pgx.ErrNoRows}
}

func testConfig() *config.Config {
	return &config.Config{
		DefaultMethod:      3,
		DefaultSchool:      0,
		DefaultLeadMinutes: 15,
		DefaultTimezone:    "UTC",
	}
}

func validPrefs() *Preferences {
	return &Preferences{
		UserID:      42,
		Enabled:     true,
		LeadMinutes: 15,
		Fajr:        true,
		Dhuhr:       true,
		Asr:         true,
		Maghrib:     true,
		Isha:        true,
		Lat:         51.5074,
		Lon:         -0.1278,
		Method:      3,
		Timezone:    "Europe/London",
	}
}

func TestPrayerEnabled(t *testing.T) {
	p := validPrefs()
	p.Asr = false

	if !p.PrayerEnabled(prayer.Fajr) || !p.PrayerEnabled(prayer.Isha) {
		t.Error("enabled prayers must report true")
	}
	if p.PrayerEnabled(prayer.Asr) {
		t.Error("disabled prayer must report false")
	}
	if p.PrayerEnabled(prayer.Sunrise) {
		t.Error("Sunrise is never a reminder target")
	}
}

func TestDefaultsFromSettings(t *testing.T) {
	store := NewStore(&fakeDB{settings: map[string]string{
		"default_lead_minutes": "10",
		"default_method":       "5",
		"default_school":       "1",
	}}, testConfig())

	p := store.Defaults(context.Background(), 42, 51.5074, -0.1278, "Europe/London")
	if !p.Enabled {
		t.Error("defaults must start enabled")
	}
	if p.LeadMinutes != 10 || p.Method != 5 || p.School != 1 {
		t.Errorf("settings rows not applied: lead=%d method=%d school=%d", p.LeadMinutes, p.Method, p.School)
	}
	if p.Lat != 51.5074 || p.Lon != -0.1278 || p.Timezone != "Europe/London" {
		t.Errorf("caller location not carried: lat=%v lon=%v tz=%q", p.Lat, p.Lon, p.Timezone)
	}
	if !p.Fajr || !p.Dhuhr || !p.Asr || !p.Maghrib || !p.Isha {
		t.Error("defaults must enable every reminder prayer")
	}
	if err := p.Validate(); err != nil {
		t.Errorf("default document must validate: %v", err)
	}
}

func TestDefaultsConfigFallback(t *testing.T) {
	cfg := testConfig()
	store := NewStore(&fakeDB{}, cfg)

	p := store.Defaults(context.Background(), 42, 21.4225, 39.8262, "")
	if p.LeadMinutes != cfg.DefaultLeadMinutes || p.Method != cfg.DefaultMethod || p.School != cfg.DefaultSchool {
		t.Errorf("config fallbacks not applied: lead=%d method=%d school=%d", p.LeadMinutes, p.Method, p.School)
	}
	if p.Timezone != cfg.DefaultTimezone {
		t.Errorf("timezone = %q, want config default %q", p.Timezone, cfg.DefaultTimezone)
	}
}

func TestDefaultsMalformedSettingFallsBack(t *testing.T) {
	cfg := testConfig()
	store := NewStore(&fakeDB{settings: map[string]string{
		"default_lead_minutes": "soon",
	}}, cfg)

	p := store.Defaults(context.Background(), 42, 0, 0, "UTC")
	if p.LeadMinutes != cfg.DefaultLeadMinutes {
		t.Errorf("lead = %d, want config fallback %d for a malformed row", p.LeadMinutes, cfg.DefaultLeadMinutes)
	}
}

func TestPreferencesValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Preferences)
		wantErr bool
	}{
		{"valid", func(p *Preferences) {}, false},
		{"lead not in choices", func(p *Preferences) { p.LeadMinutes = 17 }, true},
		{"lead zero", func(p *Preferences) { p.LeadMinutes = 0 }, true},
		{"lat out of range", func(p *Preferences) { p.Lat = 91 }, true},
		{"lon out of range", func(p *Preferences) { p.Lon = -181 }, true},
		{"empty timezone", func(p *Preferences) { p.Timezone = "" }, true},
		{"boundary coordinates", func(p *Preferences) { p.Lat, p.Lon = -90, 180 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPrefs()
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

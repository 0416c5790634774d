package prayer

import (
	"testing"
	"time"
)

func TestKeyFor(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		want     LocationKey
	}{
		{"london", 51.5074, -0.1278, "51.5074,-0.1278"},
		{"mecca", 21.4225, 39.8262, "21.4225,39.8262"},
		{"extra precision rounds", 51.50744999, -0.12784999, "51.5074,-0.1278"},
		{"rounds up", 51.50745, -0.12775, "51.5075,-0.1277"},
		{"origin", 0, 0, "0.0000,0.0000"},
		{"negative zero normalized", -0.00001, -0.00001, "0.0000,0.0000"},
		{"southern hemisphere", -33.8688, 151.2093, "-33.8688,151.2093"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KeyFor(tt.lat, tt.lon); got != tt.want {
				t.Fatalf("KeyFor(%v, %v) = %q, want %q", tt.lat, tt.lon, got, tt.want)
			}
		})
	}
}

func TestKeyForDeterministic(t *testing.T) {
	a := KeyFor(51.50741, -0.12779)
	b := KeyFor(51.50739, -0.12781)
	if a != b {
		t.Fatalf("coordinates rounding to the same point produced different keys: %q vs %q", a, b)
	}
}

func validSet() TimingSet {
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, time.UTC)
	}
	return TimingSet{
		Key:     KeyFor(51.5074, -0.1278),
		Date:    DayKey(day),
		Fajr:    at(5, 30),
		Sunrise: at(6, 50),
		Dhuhr:   at(12, 25),
		Asr:     at(15, 20),
		Maghrib: at(17, 1),
		Isha:    at(18, 41),
	}
}

func TestTimingSetValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TimingSet)
		wantErr bool
	}{
		{"valid", func(s *TimingSet) {}, false},
		{"missing fajr", func(s *TimingSet) { s.Fajr = time.Time{} }, true},
		{"missing isha", func(s *TimingSet) { s.Isha = time.Time{} }, true},
		{"sunrise before fajr", func(s *TimingSet) { s.Sunrise = s.Fajr.Add(-time.Minute) }, true},
		{"asr equals dhuhr", func(s *TimingSet) { s.Asr = s.Dhuhr }, true},
		{"isha before maghrib", func(s *TimingSet) { s.Isha = s.Maghrib.Add(-time.Hour) }, true},
		{"midnight absent is fine", func(s *TimingSet) { s.Midnight = time.Time{} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := validSet()
			tt.mutate(&set)
			err := set.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestRemindersExcludeSunrise(t *testing.T) {
	for _, n := range Reminders() {
		if n == Sunrise {
			t.Fatal("Sunrise must never be a reminder target")
		}
	}
	want := [5]Name{Fajr, Dhuhr, Asr, Maghrib, Isha}
	if Reminders() != want {
		t.Fatalf("Reminders() = %v, want chronological %v", Reminders(), want)
	}
}

func TestParseNameRoundTrip(t *testing.T) {
	for _, n := range [6]Name{Fajr, Sunrise, Dhuhr, Asr, Maghrib, Isha} {
		got, err := ParseName(n.String())
		if err != nil {
			t.Fatalf("ParseName(%q): %v", n.String(), err)
		}
		if got != n {
			t.Fatalf("ParseName(%q) = %v, want %v", n.String(), got, n)
		}
	}
	if _, err := ParseName("Tahajjud"); err == nil {
		t.Fatal("expected error for unknown prayer name")
	}
}

func TestParseProvenanceRoundTrip(t *testing.T) {
	provs := []Provenance{ProvAuthoritative, ProvMonthlyTable, ProvManualStatic, ProvLiveService, ProvStaleFallback}
	for _, p := range provs {
		got, err := ParseProvenance(p.String())
		if err != nil {
			t.Fatalf("ParseProvenance(%q): %v", p.String(), err)
		}
		if got != p {
			t.Fatalf("ParseProvenance(%q) = %v, want %v", p.String(), got, p)
		}
	}
	if _, err := ParseProvenance("cached"); err == nil {
		t.Fatal("expected error for unknown provenance")
	}
}

func TestDayKey(t *testing.T) {
	got := DayKey(time.Date(2026, 9, 1, 23, 59, 0, 0, time.UTC))
	if got != "2026-09-01" {
		t.Fatalf("DayKey = %q, want 2026-09-01", got)
	}
}

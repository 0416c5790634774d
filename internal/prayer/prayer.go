// Package prayer defines the core domain types shared by the resolver,
// scheduler and dispatch layers: prayer names, timing sets, provenance tags
// and location keys.
package prayer

import (
	"fmt"
	"math"
	"time"
)

// --------------------------------------------------------------------------
// Prayer names
// --------------------------------------------------------------------------

// Name identifies one of the daily prayer times. Sunrise is part of every
// TimingSet but is never a reminder target.
type Name int

const (
	Fajr Name = iota
	Sunrise
	Dhuhr
	Asr
	Maghrib
	Isha
)

// Reminders returns the five prayers that can carry reminder triggers,
// in chronological order.
func Reminders() [5]Name {
	return [5]Name{Fajr, Dhuhr, Asr, Maghrib, Isha}
}

func (n Name) String() string {
	switch n {
	case Fajr:
		return "Fajr"
	case Sunrise:
		return "Sunrise"
	case Dhuhr:
		return "Dhuhr"
	case Asr:
		return "Asr"
	case Maghrib:
		return "Maghrib"
	case Isha:
		return "Isha"
	default:
		return fmt.Sprintf("Name(%d)", int(n))
	}
}

// ParseName maps a stored or wire prayer name to its Name value.
func ParseName(s string) (Name, error) {
	switch s {
	case "Fajr":
		return Fajr, nil
	case "Sunrise":
		return Sunrise, nil
	case "Dhuhr":
		return Dhuhr, nil
	case "Asr":
		return Asr, nil
	case "Maghrib":
		return Maghrib, nil
	case "Isha":
		return Isha, nil
	default:
		return 0, fmt.Errorf("unknown prayer name %q", s)
	}
}

// --------------------------------------------------------------------------
// Reminder kinds
// --------------------------------------------------------------------------

// ReminderKind distinguishes the lead-time reminder from the at-prayer-time
// one. KindAtTime exists so dedup keys stay stable, but current planning
// policy never emits it.
type ReminderKind int

const (
	KindBefore ReminderKind = iota
	KindAtTime
)

func (k ReminderKind) String() string {
	switch k {
	case KindBefore:
		return "before"
	case KindAtTime:
		return "at-time"
	default:
		return fmt.Sprintf("ReminderKind(%d)", int(k))
	}
}

// --------------------------------------------------------------------------
// Provenance
// --------------------------------------------------------------------------

// Provenance records which resolution tier produced a TimingSet.
type Provenance int

const (
	// ProvAuthoritative is a stored record for the exact key and date.
	ProvAuthoritative Provenance = iota
	// ProvMonthlyTable is a human-curated monthly schedule entry.
	ProvMonthlyTable
	// ProvManualStatic is a fixed published schedule for a location.
	ProvManualStatic
	// ProvLiveService is a fresh calculation-service result.
	ProvLiveService
	// ProvStaleFallback is an old record served because the live tier failed.
	ProvStaleFallback
)

func (p Provenance) String() string {
	switch p {
	case ProvAuthoritative:
		return "authoritative-stored"
	case ProvMonthlyTable:
		return "monthly-table"
	case ProvManualStatic:
		return "manual-static"
	case ProvLiveService:
		return "live-service"
	case ProvStaleFallback:
		return "stale-fallback"
	default:
		return fmt.Sprintf("Provenance(%d)", int(p))
	}
}

// ParseProvenance maps a stored provenance tag back to its enum value.
func ParseProvenance(s string) (Provenance, error) {
	switch s {
	case "authoritative-stored":
		return ProvAuthoritative, nil
	case "monthly-table":
		return ProvMonthlyTable, nil
	case "manual-static":
		return ProvManualStatic, nil
	case "live-service":
		return ProvLiveService, nil
	case "stale-fallback":
		return ProvStaleFallback, nil
	default:
		return 0, fmt.Errorf("unknown provenance %q", s)
	}
}

// --------------------------------------------------------------------------
// Location keys
// --------------------------------------------------------------------------

// keyPrecision rounds coordinates to 4 decimal places (~11 m), the join
// key resolution across all timing tiers.
const keyPrecision = 1e4

// LocationKey is the rounded-coordinate identifier for a geographic point.
type LocationKey string

// KeyFor derives the LocationKey for a coordinate pair. Identical rounded
// coordinates always produce the same key.
func KeyFor(lat, lon float64) LocationKey {
	return LocationKey(fmt.Sprintf("%.4f,%.4f", roundCoord(lat), roundCoord(lon)))
}

func roundCoord(v float64) float64 {
	r := math.Round(v*keyPrecision) / keyPrecision
	if r == 0 {
		return 0 // avoid "-0.0000"
	}
	return r
}

// --------------------------------------------------------------------------
// Timing sets
// --------------------------------------------------------------------------

// DayKeyFormat is the canonical calendar-day key layout.
const DayKeyFormat = "2006-01-02"

// DayKey returns the calendar-day key for t in its own location.
func DayKey(t time.Time) string {
	return t.Format(DayKeyFormat)
}

// TimingSet holds the six canonical prayer timestamps for one location and
// calendar date, plus calculation metadata and provenance.
type TimingSet struct {
	Key        LocationKey
	Date       string // DayKeyFormat
	Fajr       time.Time
	Sunrise    time.Time
	Dhuhr      time.Time
	Asr        time.Time
	Maghrib    time.Time
	Isha       time.Time
	Midnight   time.Time // optional; zero when absent
	Method     int
	School     int
	Provenance Provenance
	HijriDate  string // "" when the Hijri lookup failed
}

// Time returns the timestamp for a prayer name.
func (s *TimingSet) Time(n Name) time.Time {
	switch n {
	case Fajr:
		return s.Fajr
	case Sunrise:
		return s.Sunrise
	case Dhuhr:
		return s.Dhuhr
	case Asr:
		return s.Asr
	case Maghrib:
		return s.Maghrib
	case Isha:
		return s.Isha
	default:
		return time.Time{}
	}
}

// Validate checks the six-way monotonicity invariant:
// Fajr < Sunrise < Dhuhr < Asr < Maghrib < Isha, all present.
// A set failing this must never reach the scheduler.
func (s *TimingSet) Validate() error {
	order := [6]Name{Fajr, Sunrise, Dhuhr, Asr, Maghrib, Isha}
	for i, n := range order {
		t := s.Time(n)
		if t.IsZero() {
			return fmt.Errorf("timing set %s/%s: missing %s", s.Key, s.Date, n)
		}
		if i > 0 {
			prev := order[i-1]
			if !s.Time(prev).Before(t) {
				return fmt.Errorf("timing set %s/%s: %s (%s) not after %s (%s)",
					s.Key, s.Date, n, t.Format("15:04"), prev, s.Time(prev).Format("15:04"))
			}
		}
	}
	return nil
}

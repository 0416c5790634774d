package maintenance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/minaretlabs/minaret/internal/prayer"
	"github.com/minaretlabs/minaret/internal/prefs"
	"github.com/minaretlabs/minaret/internal/schedule"
)

type fakeLister struct {
	prefs []*prefs.Preferences
	err   error
}

func (f *fakeLister) AllEnabled(ctx context.Context) ([]*prefs.Preferences, error) {
	return f.prefs, f.err
}

type fakeRearmer struct {
	armed    map[int64]bool
	armErr   map[int64]error
	armCalls []int64
}

func (f *fakeRearmer) Armed(userID int64) bool {
	return f.armed[userID]
}

func (f *fakeRearmer) Arm(ctx context.Context, p *prefs.Preferences) error {
	f.armCalls = append(f.armCalls, p.UserID)
	if err := f.armErr[p.UserID]; err != nil {
		return err
	}
	f.armed[p.UserID] = true
	return nil
}

type fakePurger struct {
	cutoff  string
	removed int64
	err     error
}

func (f *fakePurger) PurgeOlderThan(ctx context.Context, cutoff string) (int64, error) {
	f.cutoff = cutoff
	return f.removed, f.err
}

func enabledUser(id int64) *prefs.Preferences {
	return &prefs.Preferences{
		UserID: id, Enabled: true, LeadMinutes: 15,
		Fajr: true, Dhuhr: true, Asr: true, Maghrib: true, Isha: true,
		Timezone: "UTC",
	}
}

func TestCatchUpSweepRearmsUnscheduledUsers(t *testing.T) {
	lister := &fakeLister{prefs: []*prefs.Preferences{enabledUser(1), enabledUser(2), enabledUser(3)}}
	rearmer := &fakeRearmer{armed: map[int64]bool{1: true}} // user 1 already has timers
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	catchUpSweep(context.Background(), lister, rearmer, logger)

	if len(rearmer.armCalls) != 2 {
		t.Fatalf("arm called for %v, want exactly the 2 unarmed users", rearmer.armCalls)
	}
	for _, id := range rearmer.armCalls {
		if id == 1 {
			t.Fatal("sweep must skip users that already hold a live timer set")
		}
	}
	if !rearmer.armed[2] || !rearmer.armed[3] {
		t.Fatal("unarmed enabled users must be re-armed")
	}
}

func TestCatchUpSweepLeavesUnschedulableUsers(t *testing.T) {
	lister := &fakeLister{prefs: []*prefs.Preferences{enabledUser(5)}}
	rearmer := &fakeRearmer{
		armed:  map[int64]bool{},
		armErr: map[int64]error{5: fmt.Errorf("%w: user=5: all tiers exhausted", schedule.ErrSchedulingSkipped)},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	catchUpSweep(context.Background(), lister, rearmer, logger)

	if rearmer.armed[5] {
		t.Fatal("a user whose resolver still fails must stay unscheduled")
	}

	// The next sweep retries the same user.
	catchUpSweep(context.Background(), lister, rearmer, logger)
	if got := len(rearmer.armCalls); got != 2 {
		t.Fatalf("arm attempts = %d, want a retry on every sweep", got)
	}
}

func TestCatchUpSweepToleratesListFailure(t *testing.T) {
	lister := &fakeLister{err: errors.New("connection refused")}
	rearmer := &fakeRearmer{armed: map[int64]bool{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	catchUpSweep(context.Background(), lister, rearmer, logger)
	if len(rearmer.armCalls) != 0 {
		t.Fatal("a failed listing must not arm anyone")
	}
}

func TestPurgeOldRecordsCutoff(t *testing.T) {
	purger := &fakePurger{removed: 12}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	purgeOldRecords(context.Background(), purger, 400, logger)

	want := prayer.DayKey(time.Now().UTC().AddDate(0, 0, -400))
	if purger.cutoff != want {
		t.Fatalf("cutoff = %q, want %q", purger.cutoff, want)
	}
}

package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/minaretlabs/minaret/internal/prefs"
	"github.com/minaretlabs/minaret/internal/schedule"
)

type fakeReader struct {
	prefs *prefs.Preferences
	err   error
}

func (f *fakeReader) Get(ctx context.Context, userID int64) (*prefs.Preferences, error) {
	return f.prefs, f.err
}

type fakeReplanner struct {
	disabled  []int64
	replanned []int64
	updateErr error
}

func (f *fakeReplanner) Disable(userID int64) {
	f.disabled = append(f.disabled, userID)
}

func (f *fakeReplanner) UpdatePreferences(ctx context.Context, p *prefs.Preferences) error {
	f.replanned = append(f.replanned, p.UserID)
	return f.updateErr
}

func enabledUser(id int64) *prefs.Preferences {
	return &prefs.Preferences{
		UserID: id, Enabled: true, LeadMinutes: 15,
		Fajr: true, Dhuhr: true, Asr: true, Maghrib: true, Isha: true,
		Timezone: "UTC",
	}
}

func TestHandleChangeReplansEnabledUser(t *testing.T) {
	reader := &fakeReader{prefs: enabledUser(42)}
	replanner := &fakeReplanner{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handleChange(reader, replanner, 42, logger)

	if len(replanner.replanned) != 1 || replanner.replanned[0] != 42 {
		t.Fatalf("replanned = %v, want [42]", replanner.replanned)
	}
	if len(replanner.disabled) != 0 {
		t.Fatalf("disabled = %v, want none", replanner.disabled)
	}
}

func TestHandleChangeDisablesOnDisabledPrefs(t *testing.T) {
	p := enabledUser(42)
	p.Enabled = false
	reader := &fakeReader{prefs: p}
	replanner := &fakeReplanner{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handleChange(reader, replanner, 42, logger)

	if len(replanner.disabled) != 1 || replanner.disabled[0] != 42 {
		t.Fatalf("disabled = %v, want [42]", replanner.disabled)
	}
	if len(replanner.replanned) != 0 {
		t.Fatal("a disabled document must never replan")
	}
}

func TestHandleChangeDisablesOnAbsentPrefs(t *testing.T) {
	reader := &fakeReader{} // no document for the user
	replanner := &fakeReplanner{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handleChange(reader, replanner, 42, logger)

	if len(replanner.disabled) != 1 {
		t.Fatalf("disabled = %v, want the user cancelled", replanner.disabled)
	}
}

func TestHandleChangeToleratesReadFailure(t *testing.T) {
	reader := &fakeReader{err: errors.New("connection refused")}
	replanner := &fakeReplanner{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handleChange(reader, replanner, 42, logger)

	if len(replanner.disabled) != 0 || len(replanner.replanned) != 0 {
		t.Fatal("a failed read must leave the registry untouched")
	}
}

func TestHandleChangeToleratesSkippedScheduling(t *testing.T) {
	reader := &fakeReader{prefs: enabledUser(42)}
	replanner := &fakeReplanner{
		updateErr: fmt.Errorf("%w: user=42: all tiers exhausted", schedule.ErrSchedulingSkipped),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handleChange(reader, replanner, 42, logger)

	if len(replanner.replanned) != 1 {
		t.Fatal("replan must still be attempted")
	}
}

func TestPrefsEventPayload(t *testing.T) {
	var event PrefsEvent
	if err := json.Unmarshal([]byte(`{"user_id": 42}`), &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.UserID != 42 {
		t.Fatalf("user id = %d, want 42", event.UserID)
	}
}

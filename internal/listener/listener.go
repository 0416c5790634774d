// Package listener provides a Postgres LISTEN/NOTIFY consumer for real-time
// preference changes. It holds a dedicated pgx connection (not from the
// pool) listening on the `reminder_prefs_changed` channel.
//
// The settings collaborator writes a user's preference document and fires
// pg_notify with the user id; this consumer receives the event and replans
// the user's timers immediately.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/minaretlabs/minaret/internal/prefs"
	"github.com/minaretlabs/minaret/internal/schedule"
)

const (
	channel          = "reminder_prefs_changed"
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
	handleTimeout    = 30 * time.Second
)

// PrefsEvent is the JSON payload from pg_notify('reminder_prefs_changed', ...).
type PrefsEvent struct {
	UserID int64 `json:"user_id"`
}

// PrefsReader loads one user's current preference document.
type PrefsReader interface {
	Get(ctx context.Context, userID int64) (*prefs.Preferences, error)
}

// Replanner is the scheduler surface a preference change drives.
type Replanner interface {
	Disable(userID int64)
	UpdatePreferences(ctx context.Context, p *prefs.Preferences) error
}

// Start opens a dedicated connection and listens on the channel. It
// reconnects automatically on connection loss. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, dbURL string, prefStore PrefsReader, registry Replanner, logger *slog.Logger) {
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, prefStore, registry, logger)
		if ctx.Err() != nil {
			logger.Info("Preference listener stopped (context cancelled)")
			return
		}

		logger.Error("Preference listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, prefStore PrefsReader, registry Replanner, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	_, err = conn.Exec(ctx, "LISTEN "+channel)
	if err != nil {
		return fmt.Errorf("LISTEN %s: %w", channel, err)
	}
	logger.Info("Preference listener connected", "channel", channel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		var event PrefsEvent
		if err := json.Unmarshal([]byte(notification.Payload), &event); err != nil {
			logger.Warn("Failed to parse preference event",
				"payload", notification.Payload, "error", err)
			continue
		}

		logger.Info("Preference change received", "user_id", event.UserID)

		// Process asynchronously to avoid blocking the listener.
		go handleChange(prefStore, registry, event.UserID, logger)
	}
}

// handleChange reloads the user's preference document and replans.
func handleChange(prefStore PrefsReader, registry Replanner, userID int64, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	p, err := prefStore.Get(ctx, userID)
	if err != nil {
		logger.Warn("Failed to load changed preferences", "user_id", userID, "error", err)
		return
	}
	if p == nil || !p.Enabled {
		registry.Disable(userID)
		return
	}

	if err := registry.UpdatePreferences(ctx, p); err != nil {
		if errors.Is(err, schedule.ErrSchedulingSkipped) {
			logger.Warn("User left unscheduled after preference change",
				"user_id", userID, "error", err)
			return
		}
		logger.Error("Replan after preference change failed",
			"user_id", userID, "error", err)
	}
}

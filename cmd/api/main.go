// Command api is the Minaret prayer-time reminder service.
//
// Usage:
//
//	minaret-api
//	API_PORT=8080 minaret-api

// @title Minaret API
// @version 1.0.0
// @description Prayer timing resolution and reminder preference surface. Timing resolution walks a tiered policy: stored record, monthly table, static override, live calculation service, stale fallback.
// @host localhost:8000
// @BasePath /
// @schemes http https
// @contact.name Minaret
// @license.name MIT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/minaretlabs/minaret/internal/api"
	"github.com/minaretlabs/minaret/internal/config"
	"github.com/minaretlabs/minaret/internal/db"
	"github.com/minaretlabs/minaret/internal/dedup"
	"github.com/minaretlabs/minaret/internal/dispatch"
	"github.com/minaretlabs/minaret/internal/listener"
	"github.com/minaretlabs/minaret/internal/maintenance"
	"github.com/minaretlabs/minaret/internal/prefs"
	"github.com/minaretlabs/minaret/internal/provider/aladhan"
	"github.com/minaretlabs/minaret/internal/resolver"
	"github.com/minaretlabs/minaret/internal/schedule"
	"github.com/minaretlabs/minaret/internal/telegram"
	"github.com/minaretlabs/minaret/internal/timestore"

	_ "github.com/minaretlabs/minaret/docs" // swagger docs
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Connect to database
	logger.Info("Connecting to database...")
	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	// Stores and external clients
	store := timestore.New(pool.Pool)
	prefStore := prefs.NewStore(pool.Pool, cfg)
	calc := aladhan.NewClient(cfg.CalcServiceBaseURL, cfg.CalcServiceTimeout, cfg.CalcServiceRPM, logger)
	res := resolver.New(ctx, store, calc, cfg.DefaultMidnightMode, logger)

	// Dedup tracker and dispatcher
	tracker := dedup.NewTracker(ctx)

	var sender dispatch.Sender
	if cfg.TelegramBotToken != "" {
		sender = telegram.NewClient(cfg.TelegramBaseURL, cfg.TelegramBotToken)
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set, sends will be logged only")
		sender = logSender{logger: logger}
	}
	dispatcher := dispatch.New(sender, cfg.SendPerSecond, cfg.SendPerMinute,
		cfg.PerChatGap, cfg.MaxSendAttempts, logger)

	// Scheduler registry, wired to the dispatcher's terminal handler
	registry := schedule.NewRegistry(res, tracker, dispatcher, prefStore, logger)
	dispatcher.SetTerminalHandler(registry.HandleTerminal)
	defer registry.Shutdown()

	go dispatcher.Run(ctx)

	// Rebuild live timer sets from persisted preferences
	go armAll(ctx, prefStore, registry, logger)

	// LISTEN/NOTIFY consumer for preference changes from the settings surface
	go listener.Start(ctx, cfg.DatabaseURL, prefStore, registry, logger)

	// Maintenance tickers (catch-up sweep, record purge)
	go maintenance.Start(ctx, maintenance.DefaultConfig(), prefStore, registry, store, logger)

	// Create router
	router := api.NewRouter(pool, cfg, res, prefStore, registry, tracker, dispatcher)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Minaret API",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}

// armAll rebuilds every enabled user's timer set at startup. Individual
// failures leave that user to the catch-up sweep.
func armAll(ctx context.Context, prefStore *prefs.Store, registry *schedule.Registry, logger *slog.Logger) {
	enabled, err := prefStore.AllEnabled(ctx)
	if err != nil {
		logger.Error("Failed to list enabled users at startup", "error", err)
		return
	}

	armed := 0
	for _, p := range enabled {
		if err := registry.Arm(ctx, p); err != nil {
			logger.Warn("Startup arm failed", "user_id", p.UserID, "error", err)
			continue
		}
		armed++
	}
	logger.Info("Startup arming complete", "enabled", len(enabled), "armed", armed)
}

// logSender is the no-op sender used when no bot token is configured.
type logSender struct {
	logger *slog.Logger
}

func (s logSender) SendMessage(ctx context.Context, chatID int64, text string) error {
	s.logger.Info("Send (no bot token configured)", "chat_id", chatID, "text", text)
	return nil
}

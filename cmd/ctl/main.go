// Command ctl is the Minaret operations CLI.
//
// Usage:
//
//	minaret-ctl resolve --lat 51.5074 --lon -0.1278
//	minaret-ctl resolve --lat 21.4225 --lon 39.8262 --date 2026-09-15
//	minaret-ctl prewarm --lat 51.5074 --lon -0.1278 --month 2026-09
//	minaret-ctl purge --days 400
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/minaretlabs/minaret/internal/config"
	"github.com/minaretlabs/minaret/internal/db"
	"github.com/minaretlabs/minaret/internal/prayer"
	"github.com/minaretlabs/minaret/internal/provider/aladhan"
	"github.com/minaretlabs/minaret/internal/resolver"
	"github.com/minaretlabs/minaret/internal/timestore"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "minaret-ctl",
		Short: "Minaret operations CLI",
	}

	root.AddCommand(resolveCmd())
	root.AddCommand(prewarmCmd())
	root.AddCommand(purgeCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// resolve command
// --------------------------------------------------------------------------

func resolveCmd() *cobra.Command {
	var (
		lat, lon       float64
		dateStr        string
		method, school int
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve prayer timings for a point and date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(func(ctx context.Context, cfg *config.Config, res *resolver.Resolver, store *timestore.Store) error {
				date := time.Now().UTC()
				if dateStr != "" {
					var err error
					if date, err = time.Parse(prayer.DayKeyFormat, dateStr); err != nil {
						return fmt.Errorf("parse --date: %w", err)
					}
				}
				if method == -1 {
					method = cfg.DefaultMethod
				}
				if school == -1 {
					school = cfg.DefaultSchool
				}

				set, err := res.Resolve(ctx, lat, lon, date, method, school)
				if err != nil {
					return err
				}
				printSet(set)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	cmd.Flags().StringVar(&dateStr, "date", "", "date (YYYY-MM-DD, default today)")
	cmd.Flags().IntVar(&method, "method", -1, "calculation method id (default from config)")
	cmd.Flags().IntVar(&school, "school", -1, "juristic school id (default from config)")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

// --------------------------------------------------------------------------
// prewarm command
// --------------------------------------------------------------------------

func prewarmCmd() *cobra.Command {
	var (
		lat, lon float64
		monthStr string
	)
	cmd := &cobra.Command{
		Use:   "prewarm",
		Short: "Populate the authoritative tier for a whole month",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(func(ctx context.Context, cfg *config.Config, res *resolver.Resolver, store *timestore.Store) error {
				month := time.Now().UTC()
				if monthStr != "" {
					var err error
					if month, err = time.Parse("2006-01", monthStr); err != nil {
						return fmt.Errorf("parse --month: %w", err)
					}
				}

				start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
				warmed, failed := 0, 0
				for day := start; day.Month() == start.Month(); day = day.AddDate(0, 0, 1) {
					// Each resolution writes through to the store on a
					// live-service hit; stored days are simply read back.
					if _, err := res.Resolve(ctx, lat, lon, day, cfg.DefaultMethod, cfg.DefaultSchool); err != nil {
						logger.Warn("Prewarm day failed", "day", prayer.DayKey(day), "error", err)
						failed++
						continue
					}
					warmed++
				}
				logger.Info("Prewarm finished",
					"key", prayer.KeyFor(lat, lon), "month", start.Format("2006-01"),
					"warmed", warmed, "failed", failed)
				if failed > 0 && warmed == 0 {
					return fmt.Errorf("prewarm failed for every day of %s", start.Format("2006-01"))
				}
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	cmd.Flags().StringVar(&monthStr, "month", "", "month (YYYY-MM, default current)")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

// --------------------------------------------------------------------------
// purge command
// --------------------------------------------------------------------------

func purgeCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete timing records older than N days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(func(ctx context.Context, cfg *config.Config, res *resolver.Resolver, store *timestore.Store) error {
				cutoff := prayer.DayKey(time.Now().UTC().AddDate(0, 0, -days))
				removed, err := store.PurgeOlderThan(ctx, cutoff)
				if err != nil {
					return err
				}
				logger.Info("Purge finished", "cutoff", cutoff, "removed", removed)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 400, "retention in days")
	return cmd
}

// --------------------------------------------------------------------------
// Harness
// --------------------------------------------------------------------------

// runWith connects the database, builds the resolver stack, runs fn, and
// tears everything down.
func runWith(fn func(ctx context.Context, cfg *config.Config, res *resolver.Resolver, store *timestore.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		return err
	}
	defer pool.Close()

	store := timestore.New(pool.Pool)
	calc := aladhan.NewClient(cfg.CalcServiceBaseURL, cfg.CalcServiceTimeout, cfg.CalcServiceRPM, logger)
	res := resolver.New(ctx, store, calc, cfg.DefaultMidnightMode, logger)

	if err := fn(ctx, cfg, res, store); err != nil {
		logger.Error("Command failed", "error", err)
		return err
	}
	return nil
}

func printSet(set *prayer.TimingSet) {
	fmt.Printf("location: %s  date: %s  provenance: %s\n", set.Key, set.Date, set.Provenance)
	if set.HijriDate != "" {
		fmt.Printf("hijri: %s\n", set.HijriDate)
	}
	for _, n := range [6]prayer.Name{prayer.Fajr, prayer.Sunrise, prayer.Dhuhr, prayer.Asr, prayer.Maghrib, prayer.Isha} {
		fmt.Printf("%-8s %s\n", n, set.Time(n).Format("15:04 MST"))
	}
	if !set.Midnight.IsZero() {
		fmt.Printf("%-8s %s\n", "Midnight", set.Midnight.Format("15:04 MST"))
	}
}

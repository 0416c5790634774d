// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/ctl.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Reminder lead times — the only values the settings surface may store
// --------------------------------------------------------------------------

// LeadMinuteChoices are the permitted reminder lead times, in minutes.
var LeadMinuteChoices = []int{5, 10, 15, 30}

// ValidLeadMinutes reports whether m is a permitted lead time.
func ValidLeadMinutes(m int) bool {
	for _, c := range LeadMinuteChoices {
		if m == c {
			return true
		}
	}
	return false
}

// --------------------------------------------------------------------------
// Config struct — populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Inbound HTTP rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Calculation service (AlAdhan-compatible)
	CalcServiceBaseURL string
	CalcServiceTimeout time.Duration
	CalcServiceRPM     int // outbound requests per minute

	// Telegram
	TelegramBotToken string
	TelegramBaseURL  string

	// Dispatch ceilings
	SendPerSecond   int
	SendPerMinute   int
	PerChatGap      time.Duration
	MaxSendAttempts int

	// Defaults consulted when a user has no explicit preferences
	DefaultMethod       int
	DefaultSchool       int
	DefaultMidnightMode int
	DefaultLeadMinutes  int
	DefaultTimezone     string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", envOr("MINARET_DATABASE_URL", ""))
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL or MINARET_DATABASE_URL must be set")
	}

	cfg := &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		CalcServiceBaseURL: envOr("CALC_SERVICE_BASE_URL", "https://api.aladhan.com/v1"),
		CalcServiceTimeout: time.Duration(envInt("CALC_SERVICE_TIMEOUT_SECONDS", 10)) * time.Second,
		CalcServiceRPM:     envInt("CALC_SERVICE_RPM", 90),

		TelegramBotToken: envOr("TELEGRAM_BOT_TOKEN", ""),
		TelegramBaseURL:  envOr("TELEGRAM_API_BASE_URL", "https://api.telegram.org"),

		SendPerSecond:   envInt("SEND_PER_SECOND", 25),
		SendPerMinute:   envInt("SEND_PER_MINUTE", 1200),
		PerChatGap:      time.Duration(envInt("PER_CHAT_GAP_MS", 1000)) * time.Millisecond,
		MaxSendAttempts: envInt("MAX_SEND_ATTEMPTS", 3),

		DefaultMethod:       envInt("DEFAULT_CALC_METHOD", 3), // Muslim World League
		DefaultSchool:       envInt("DEFAULT_SCHOOL", 0),      // Shafi
		DefaultMidnightMode: envInt("DEFAULT_MIDNIGHT_MODE", 0),
		DefaultLeadMinutes:  envInt("DEFAULT_LEAD_MINUTES", 15),
		DefaultTimezone:     envOr("DEFAULT_TIMEZONE", "UTC"),
	}

	if !ValidLeadMinutes(cfg.DefaultLeadMinutes) {
		return nil, fmt.Errorf("DEFAULT_LEAD_MINUTES must be one of %v", LeadMinuteChoices)
	}
	return cfg, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}

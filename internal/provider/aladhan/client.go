// Package aladhan provides the HTTP client for the remote prayer-time
// calculation service (AlAdhan-compatible API).
//
// The service is authoritative for nothing — results feed the resolver's
// live tier and are written through to the timing store. Calls carry a
// bounded timeout and are rate limited via a token bucket limiter.
package aladhan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/minaretlabs/minaret/internal/prayer"
)

// dateFormat is the DD-MM-YYYY path segment the API expects.
const dateFormat = "02-01-2006"

// Client is the calculation-service HTTP client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a rate-limited client with a bounded request timeout.
func NewClient(baseURL string, timeout time.Duration, requestsPerMinute int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	rps := float64(requestsPerMinute) / 60.0
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger,
	}
}

// --------------------------------------------------------------------------
// Response shapes
// --------------------------------------------------------------------------

type envelope struct {
	Code   int             `json:"code"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type timingsData struct {
	Timings map[string]string `json:"timings"`
	Date    struct {
		Hijri struct {
			Date string `json:"date"`
		} `json:"hijri"`
	} `json:"date"`
	Meta struct {
		Timezone string `json:"timezone"`
	} `json:"meta"`
}

type hijriData struct {
	Hijri struct {
		Date string `json:"date"`
	} `json:"hijri"`
}

// --------------------------------------------------------------------------
// Endpoints
// --------------------------------------------------------------------------

// Timings fetches the six prayer timestamps for a coordinate pair and date.
// The returned set is tagged live-service and carries the Hijri date string
// the service includes with the timings.
func (c *Client) Timings(ctx context.Context, lat, lon float64, date time.Time, method, school, midnightMode int) (*prayer.TimingSet, error) {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', 6, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', 6, 64))
	params.Set("method", strconv.Itoa(method))
	params.Set("school", strconv.Itoa(school))
	params.Set("midnightMode", strconv.Itoa(midnightMode))

	raw, err := c.get(ctx, "/timings/"+date.Format(dateFormat), params)
	if err != nil {
		return nil, err
	}

	var data timingsData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode timings payload: %w", err)
	}

	loc, err := time.LoadLocation(data.Meta.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timings timezone %q: %w", data.Meta.Timezone, err)
	}

	set := &prayer.TimingSet{
		Key:        prayer.KeyFor(lat, lon),
		Date:       prayer.DayKey(date),
		Method:     method,
		School:     school,
		Provenance: prayer.ProvLiveService,
		HijriDate:  data.Date.Hijri.Date,
	}

	day := date.In(loc)
	for name, field := range map[string]*time.Time{
		"Fajr":    &set.Fajr,
		"Sunrise": &set.Sunrise,
		"Dhuhr":   &set.Dhuhr,
		"Asr":     &set.Asr,
		"Maghrib": &set.Maghrib,
		"Isha":    &set.Isha,
	} {
		t, err := parseWallClock(data.Timings[name], day, loc)
		if err != nil {
			return nil, fmt.Errorf("timings field %s: %w", name, err)
		}
		*field = t
	}

	// Midnight is optional and may fall past 00:00 of the next day.
	if raw, ok := data.Timings["Midnight"]; ok {
		if t, err := parseWallClock(raw, day, loc); err == nil {
			if t.Before(set.Fajr) {
				t = t.Add(24 * time.Hour)
			}
			set.Midnight = t
		}
	}

	return set, nil
}

// HijriDate converts a Gregorian date to its Hijri date string. Failures
// degrade to an error the resolver maps to an "unknown" marker — they never
// block timing resolution.
func (c *Client) HijriDate(ctx context.Context, date time.Time) (string, error) {
	raw, err := c.get(ctx, "/gToH/"+date.Format(dateFormat), nil)
	if err != nil {
		return "", err
	}
	var data hijriData
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("decode hijri payload: %w", err)
	}
	if data.Hijri.Date == "" {
		return "", fmt.Errorf("hijri payload missing date")
	}
	return data.Hijri.Date, nil
}

// --------------------------------------------------------------------------
// Transport
// --------------------------------------------------------------------------

// get performs a rate-limited GET and unwraps the service's envelope.
// Timeout, non-2xx and malformed payloads are all failures.
func (c *Client) get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calc service %s returned %d: %s", path, resp.StatusCode, truncate(body, 200))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Code != http.StatusOK {
		return nil, fmt.Errorf("calc service %s returned code %d (%s)", path, env.Code, env.Status)
	}
	return env.Data, nil
}

// parseWallClock parses "HH:MM" (optionally with a " (TZ)" suffix the API
// sometimes appends) onto a calendar day in a timezone.
func parseWallClock(s string, day time.Time, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if i := strings.IndexByte(s, ' '); i > 0 {
		s = s[:i]
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}

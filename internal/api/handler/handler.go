// Package handler provides HTTP handlers for the thin I/O surface external
// collaborators call: timing resolution passthrough, the preferences-replace
// operation, and health checks. No business logic lives here.
package handler

import (
	"net/http"
	"time"

	"github.com/minaretlabs/minaret/internal/api/respond"
	"github.com/minaretlabs/minaret/internal/config"
	"github.com/minaretlabs/minaret/internal/db"
	"github.com/minaretlabs/minaret/internal/dedup"
	"github.com/minaretlabs/minaret/internal/dispatch"
	"github.com/minaretlabs/minaret/internal/prefs"
	"github.com/minaretlabs/minaret/internal/resolver"
	"github.com/minaretlabs/minaret/internal/schedule"
)

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	pool       *db.Pool
	cfg        *config.Config
	resolver   *resolver.Resolver
	prefStore  *prefs.Store
	registry   *schedule.Registry
	tracker    *dedup.Tracker
	dispatcher *dispatch.Dispatcher
}

// New creates a Handler with shared dependencies.
func New(pool *db.Pool, cfg *config.Config, res *resolver.Resolver, prefStore *prefs.Store,
	registry *schedule.Registry, tracker *dedup.Tracker, dispatcher *dispatch.Dispatcher) *Handler {
	return &Handler{
		pool:       pool,
		cfg:        cfg,
		resolver:   res,
		prefStore:  prefStore,
		registry:   registry,
		tracker:    tracker,
		dispatcher: dispatcher,
	}
}

// Root serves API info at /.
// @Summary API root info
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "Minaret API",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
	})
}

// HealthCheck returns basic health status plus scheduler and dispatch stats.
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	sent, dropped := h.dispatcher.Stats()
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":        "healthy",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"armed_users":   h.registry.ArmedCount(),
		"dedup_marks":   h.tracker.Len(),
		"sent_total":    sent,
		"dropped_total": dropped,
	})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if err := h.pool.HealthCheck(r.Context()); err != nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"database":  "disconnected",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

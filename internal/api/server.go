package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/minaretlabs/minaret/internal/api/handler"
	"github.com/minaretlabs/minaret/internal/config"
	"github.com/minaretlabs/minaret/internal/db"
	"github.com/minaretlabs/minaret/internal/dedup"
	"github.com/minaretlabs/minaret/internal/dispatch"
	"github.com/minaretlabs/minaret/internal/prefs"
	"github.com/minaretlabs/minaret/internal/resolver"
	"github.com/minaretlabs/minaret/internal/schedule"
)

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(pool *db.Pool, cfg *config.Config, res *resolver.Resolver, prefStore *prefs.Store,
	registry *schedule.Registry, tracker *dedup.Tracker, dispatcher *dispatch.Dispatcher) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TimingMiddleware)
	r.Use(middleware.Compress(5)) // gzip

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "PUT", "DELETE", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type"},
		ExposedHeaders:   []string{"X-Process-Time"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	// --- Handler dependencies ---
	h := handler.New(pool, cfg, res, prefStore, registry, tracker, dispatcher)

	// --- Routes ---

	// Root
	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
	})

	// Swagger UI
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"),
	))

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Timing resolution
		r.Get("/timings", h.GetTimings)

		// Reminder preferences (settings collaborator surface)
		r.Route("/users/{userID}/preferences", func(r chi.Router) {
			r.Get("/", h.GetPreferences)
			r.Put("/", h.PutPreferences)
			r.Delete("/", h.DeletePreferences)
			r.Get("/defaults", h.GetPreferenceDefaults)
		})
	})

	return r
}

package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/catalogsync/pkg/health"
	"github.com/utafrali/catalogsync/pkg/middleware"
)

// RouterConfig carries what the router needs besides the handlers.
type RouterConfig struct {
	Gatherer          prometheus.Gatherer
	PprofAllowedCIDRs []string
	// Authenticate guards the admin routes; nil leaves them open.
	Authenticate middleware.TokenValidator
	// AdminRole is the role admin callers must carry.
	AdminRole string
}

// NewRouter creates a chi router with the admin, health and metrics routes.
func NewRouter(
	admin *AdminHandler,
	healthHandler *health.Handler,
	cfg RouterConfig,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.Tracing)
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics)

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	r.Route("/api/v1/admin", func(r chi.Router) {
		if cfg.Authenticate != nil {
			r.Use(middleware.Auth(cfg.Authenticate, logger))
			r.Use(middleware.RequireRole(cfg.AdminRole))
		}
		r.Get("/reindex", admin.ReindexStatus)
		r.Post("/reindex", admin.StartReindex)
		r.Post("/embeddings", admin.StartBackfill)
	})

	return r
}

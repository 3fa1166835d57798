// Package httptransport is the thin HTTP layer over the session manager. It
// delegates to the manager without embedding lifecycle logic so transport
// concerns remain isolated.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"avanza/internal/platform/health"
	"avanza/internal/platform/metrics"
	"avanza/internal/platform/middleware"
)

// NewRouter wires all public endpoints with middleware.
func NewRouter(h *Handler, checks *health.Handler, logger *slog.Logger, m *metrics.Metrics, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Latency(m))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/v1/session", func(r chi.Router) {
		r.Post("/", h.handleLogin)
		r.Get("/", h.handleGetSession)
		r.Delete("/", h.handleLogout)
		r.Post("/refresh", h.handleRefresh)
		r.Post("/password", h.handleChangePassword)
		r.Post("/password/reset", h.handleResetPassword)
	})

	checks.Register(r)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

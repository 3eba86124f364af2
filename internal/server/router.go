// Package server wires the HTTP and gRPC surfaces of the cron service.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openjobspec/ojs-cron-nats/internal/api"
)

// NewRouter creates the HTTP router.
func NewRouter(h *api.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(api.RequestID)
	r.Use(api.RequestLogger(logger))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{name}", h.GetJob)
	})

	return r
}

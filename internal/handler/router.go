// Package handler provides the HTTP endpoints of the serve command: health,
// Prometheus metrics and the credential status of the configured session.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// StatusProvider reports the current credential status as a JSON-encodable
// value.
type StatusProvider interface {
	Status(ctx context.Context) (any, error)
}

// Router serves the operational endpoints.
type Router struct {
	gatherer    prometheus.Gatherer
	metricsPath string
	status      StatusProvider
	logger      zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	Gatherer    prometheus.Gatherer
	MetricsPath string

	// Status is optional; /status answers 404 without it.
	Status StatusProvider

	Logger zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	path := config.MetricsPath
	if path == "" {
		path = "/metrics"
	}
	return &Router{
		gatherer:    config.Gatherer,
		metricsPath: path,
		status:      config.Status,
		logger:      config.Logger.With().Str("component", "router").Logger(),
	}
}

// Handler returns the main HTTP handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	rt.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the operational routes on r.
func (rt *Router) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", rt.handleHealth)
	if rt.gatherer != nil {
		r.Handle(rt.metricsPath, promhttp.HandlerFor(rt.gatherer, promhttp.HandlerOpts{}))
	}
	if rt.status != nil {
		r.Get("/status", rt.handleStatus)
	}
}

// handleHealth handles health check requests.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleStatus reports the credential status without exposing secrets.
func (rt *Router) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := rt.status.Status(r.Context())
	if err != nil {
		rt.logger.Warn().Err(err).Msg("status check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

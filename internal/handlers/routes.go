package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the application router. When withMetrics is set the
// Prometheus handler is mounted at /metrics as well.
func (h *Handlers) Router(withMetrics bool) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet).Name("health")
	r.HandleFunc("/healthz", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/livez", h.LivenessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods(http.MethodGet)
	r.HandleFunc("/version", h.GetVersion).Methods(http.MethodGet)
	if withMetrics {
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/scan", h.StartScan).Methods(http.MethodPost)
	api.HandleFunc("/scan/cancel", h.CancelScan).Methods(http.MethodPost)
	api.HandleFunc("/scan/status", h.ScanStatus).Methods(http.MethodGet)
	api.HandleFunc("/scan/freshness", h.ScanFreshness).Methods(http.MethodGet)
	api.HandleFunc("/search", h.Search).Methods(http.MethodPost)
	api.HandleFunc("/records/{id:[0-9]+}", h.GetRecord).Methods(http.MethodGet)
	api.HandleFunc("/records", h.GetRecordByPath).Methods(http.MethodGet).Queries("path", "{path}")
	api.HandleFunc("/sessions", h.ListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.GetStats).Methods(http.MethodGet)
	api.HandleFunc("/index", h.IndexStatus).Methods(http.MethodGet)
	api.HandleFunc("/index/rebuild", h.RebuildIndex).Methods(http.MethodPost)

	return r
}

// MetricsHandler returns the Prometheus metrics handler for the
// standalone metrics server.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

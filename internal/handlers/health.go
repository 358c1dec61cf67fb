package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"imgcat/internal/scanner"
	"imgcat/internal/startup"
	"imgcat/internal/vector"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
	statusDown     = "unhealthy"
)

const pingTimeout = 2 * time.Second

// HealthResponse contains the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Ready    bool   `json:"ready"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Scanning bool   `json:"scanning"`
	Error    string `json:"error,omitempty"`

	CurrentScan *scanner.Info  `json:"currentScan,omitempty"`
	LastScan    *scanner.Info  `json:"lastScan,omitempty"`
	Index       *vector.Status `json:"index,omitempty"`
	Records     int            `json:"records"`

	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// HealthCheck returns the health status of the service. It answers 503
// only when the catalog cannot be reached; a failed last scan is reported
// as degraded.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:       statusHealthy,
		Ready:        true,
		Version:      startup.Version,
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		Scanning:     h.engine.IsScanning(),
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if n, err := h.db.CountActive(ctx); err != nil {
		resp.Status = statusDown
		resp.Ready = false
		resp.Error = err.Error()
	} else {
		resp.Records = n
	}

	if cur, ok := h.engine.CurrentScan(); ok {
		resp.CurrentScan = &cur
	}
	if last, ok := h.engine.LastScan(); ok {
		resp.LastScan = &last
		if last.Status == scanner.StatusFailed && resp.Status == statusHealthy {
			resp.Status = statusDegraded
		}
	}
	if idx := h.engine.Index(); idx != nil {
		st := idx.Status()
		resp.Index = &st
	}

	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	respond(w, r, code, resp)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, statusBody{Status: "alive"})
}

// ReadinessCheck returns 200 only when the catalog answers queries.
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		respond(w, r, http.StatusServiceUnavailable, statusBody{Status: "not_ready", Error: err.Error()})
		return
	}
	respond(w, r, http.StatusOK, statusBody{Status: "ready"})
}

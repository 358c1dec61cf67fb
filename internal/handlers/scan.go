package handlers

import (
	"errors"
	"net/http"

	"imgcat/internal/engine"
	"imgcat/internal/logging"
	"imgcat/internal/scanner"
	"imgcat/internal/streaming"
)

// ScanRequest is the body of POST /api/scan. Both fields are optional.
type ScanRequest struct {
	Roots []string `json:"roots,omitempty"`
	Mode  string   `json:"mode,omitempty"`
}

// StartScan starts a scan and streams its events as NDJSON, one event
// per line, ending with the terminal event. The scan keeps running if the
// client goes away; the remaining events are drained and discarded.
func (h *Handlers) StartScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := scanner.ParseMode(req.Mode)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, events, err := h.engine.Scan(r.Context(), req.Roots, mode)
	if err != nil {
		respondError(w, scanErrorStatus(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Scan-Session", sess.ID)
	w.WriteHeader(http.StatusOK)

	stream := streaming.NewEventWriter(r.Context(), w, streaming.DefaultConfig())
	defer stream.Close()
	for ev := range events {
		if err := stream.Send(ev); err != nil && !errors.Is(err, stream.Err()) {
			logging.Warn("Encoding scan %s event failed: %v", sess.ID, err)
		}
	}
	if err := stream.Err(); err != nil {
		logging.Debug("Scan %s stream ended early (%v), remaining events were discarded", sess.ID, err)
	}
}

func scanErrorStatus(err error) int {
	var rootErr *scanner.RootError
	switch {
	case errors.Is(err, engine.ErrScanInProgress):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNoRoots), errors.As(err, &rootErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// CancelScan requests cancellation of the running scan.
func (h *Handlers) CancelScan(w http.ResponseWriter, r *http.Request) {
	if !h.engine.CancelScan() {
		respondError(w, http.StatusNotFound, "no scan is running")
		return
	}
	respond(w, r, http.StatusAccepted, statusBody{Status: "cancelling"})
}

// ScanStatusResponse reports the running and the last finished scan.
type ScanStatusResponse struct {
	Scanning bool          `json:"scanning"`
	Current  *scanner.Info `json:"current,omitempty"`
	Last     *scanner.Info `json:"last,omitempty"`
}

// ScanStatus reports scan progress.
func (h *Handlers) ScanStatus(w http.ResponseWriter, r *http.Request) {
	var resp ScanStatusResponse
	if cur, ok := h.engine.CurrentScan(); ok {
		resp.Scanning = true
		resp.Current = &cur
	}
	if last, ok := h.engine.LastScan(); ok {
		resp.Last = &last
	}
	respond(w, r, http.StatusOK, resp)
}

// ScanFreshness reports whether the catalog is due for a scan.
func (h *Handlers) ScanFreshness(w http.ResponseWriter, r *http.Request) {
	f, err := h.engine.CheckFreshness(r.Context(), false)
	if err != nil {
		logging.Error("Freshness check failed: %v", err)
		respondError(w, http.StatusInternalServerError, "freshness check failed")
		return
	}
	respond(w, r, http.StatusOK, f)
}

package handlers

import (
	"errors"
	"net/http"

	"imgcat/internal/logging"
	"imgcat/internal/vector"
)

// IndexStatus reports the approximate index state.
func (h *Handlers) IndexStatus(w http.ResponseWriter, r *http.Request) {
	idx := h.engine.Index()
	if idx == nil {
		respondError(w, http.StatusNotFound, vector.ErrIndexUnavailable.Error())
		return
	}
	respond(w, r, http.StatusOK, idx.Status())
}

// RebuildIndex rebuilds the approximate index and waits for it. A rebuild
// already in progress is reported with 202 instead of starting another.
func (h *Handlers) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	started, err := h.engine.RebuildIndex(r.Context())
	switch {
	case errors.Is(err, vector.ErrIndexUnavailable):
		respondError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		logging.Error("Index rebuild failed: %v", err)
		respondError(w, http.StatusInternalServerError, "index rebuild failed: "+err.Error())
		return
	case !started:
		respond(w, r, http.StatusAccepted, statusBody{Status: "already_rebuilding"})
		return
	}
	respond(w, r, http.StatusOK, h.engine.Index().Status())
}

package handlers

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gorilla/mux"

	"imgcat/internal/database"
	"imgcat/internal/logging"
)

const (
	defaultSessionLimit = 20
	maxSessionLimit     = 500
)

// GetRecord returns one catalog record by ID, deleted records included.
func (h *Handlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid record id")
		return
	}
	rec, err := h.db.GetByID(r.Context(), id)
	h.writeRecord(w, r, rec, err)
}

// GetRecordByPath returns the record for ?path=.
func (h *Handlers) GetRecordByPath(w http.ResponseWriter, r *http.Request) {
	path, err := filepath.Abs(r.URL.Query().Get("path"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	rec, err := h.db.GetByPath(r.Context(), path)
	h.writeRecord(w, r, rec, err)
}

func (h *Handlers) writeRecord(w http.ResponseWriter, r *http.Request, rec *database.ImageRecord, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "record not found")
	case err != nil:
		logging.Error("Record lookup failed: %v", err)
		respondError(w, http.StatusInternalServerError, "record lookup failed")
	default:
		respond(w, r, http.StatusOK, rec)
	}
}

// ListSessions returns recent scan sessions, newest first. ?limit= caps
// the count.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultSessionLimit
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = min(l, maxSessionLimit)
	}

	sessions, err := h.db.ListSessions(r.Context(), limit)
	if err != nil {
		logging.Error("Listing sessions failed: %v", err)
		respondError(w, http.StatusInternalServerError, "listing sessions failed")
		return
	}
	if sessions == nil {
		sessions = []database.SessionRecord{}
	}
	respond(w, r, http.StatusOK, sessions)
}

// GetSession returns one persisted session.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.db.GetSession(r.Context(), mux.Vars(r)["id"])
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "session not found")
	case err != nil:
		logging.Error("Session lookup failed: %v", err)
		respondError(w, http.StatusInternalServerError, "session lookup failed")
	default:
		respond(w, r, http.StatusOK, s)
	}
}

// GetStats returns catalog statistics.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.Stats(r.Context())
	if err != nil {
		logging.Error("Catalog stats failed: %v", err)
		respondError(w, http.StatusInternalServerError, "catalog stats failed")
		return
	}
	respond(w, r, http.StatusOK, stats)
}

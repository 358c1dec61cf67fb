package handlers

import (
	"net/http"

	"imgcat/internal/startup"
)

// GetVersion returns the application version and build information
func (h *Handlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	respond(w, r, http.StatusOK, startup.GetBuildInfo())
}

package handlers

import (
	"errors"
	"net/http"

	"imgcat/internal/engine"
	"imgcat/internal/logging"
	"imgcat/internal/similarity"
)

// SearchErrorResponse is returned for failed searches. Results is always
// an empty list so clients can treat both shapes alike.
type SearchErrorResponse struct {
	Error   string             `json:"error"`
	Op      string             `json:"op,omitempty"`
	Results []similarity.Match `json:"results"`
}

// Search runs a similarity search for the image or fingerprint in the
// request body.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	var req engine.SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, SearchErrorResponse{
			Error:   err.Error(),
			Results: []similarity.Match{},
		})
		return
	}

	resp, err := h.engine.SearchSimilar(r.Context(), req)
	if err != nil {
		body := SearchErrorResponse{Error: err.Error(), Results: []similarity.Match{}}
		code := http.StatusInternalServerError
		var qe *similarity.QueryError
		if errors.As(err, &qe) {
			body.Op = qe.Op
			code = searchErrorStatus(qe)
		}
		if code >= http.StatusInternalServerError {
			logging.Error("Search failed: %v", err)
		}
		respond(w, r, code, body)
		return
	}
	respond(w, r, http.StatusOK, resp)
}

func searchErrorStatus(qe *similarity.QueryError) int {
	switch qe.Op {
	case "query", "weights":
		return http.StatusBadRequest
	case "extract":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

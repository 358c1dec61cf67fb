package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"imgcat/internal/logging"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// respond writes v as a JSON body with the given status. HEAD requests get
// the headers only. An encoding failure after the header is sent can only
// be logged.
func respond(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if r != nil && r.Method == http.MethodHead {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("encode %T response: %v", v, err)
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, nil, status, errorBody{Error: message})
}

// statusBody is the JSON shape of responses that only report a state.
type statusBody struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// decodeJSON reads a JSON body into v, rejecting unknown fields. An empty
// body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("invalid request body: %w", err)
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"bookstand/internal/inventory"
	"bookstand/internal/staff"
	"bookstand/pkg/docstore"
)

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// respondError maps the error taxonomy onto status codes: validation
// failures carry the offending field for inline display, remote write
// failures surface as their own classes, everything else is a generic
// retry prompt.
func respondError(w http.ResponseWriter, err error) {
	var verr *inventory.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusUnprocessableEntity, errorBody{Error: verr.Reason, Field: verr.Field})
	case errors.Is(err, docstore.ErrNotFound):
		respondJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, docstore.ErrUnavailable):
		respondJSON(w, http.StatusServiceUnavailable, errorBody{Error: "store unavailable, try again"})
	case errors.Is(err, staff.ErrInvalidCredentials):
		respondJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid credentials"})
	case errors.Is(err, staff.ErrRateLimited):
		respondJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many attempts, slow down"})
	default:
		respondJSON(w, http.StatusInternalServerError, errorBody{Error: "unexpected error, please retry"})
	}
}

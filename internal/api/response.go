package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/openjobspec/ojs-cron-nats/internal/core"
)

// ErrorResponse wraps an error body.
type ErrorResponse struct {
	Error *core.Error `json:"error"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// WriteError writes err as an ErrorResponse.
func WriteError(w http.ResponseWriter, status int, err *core.Error) {
	WriteJSON(w, status, ErrorResponse{Error: err})
}

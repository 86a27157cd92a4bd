package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/double-tu/blinko-to-obsidian/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

// errResponse is the body of every failed request. Removed is only set by
// a reconciliation that failed after committing some chunks.
type errResponse struct {
	Error   string `json:"error" validate:"required"`
	Removed *int   `json:"removed,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	var (
		cfgErr    *apperr.ConfigurationError
		remoteErr *apperr.RemoteError
	)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &cfgErr):
		return http.StatusServiceUnavailable
	case errors.As(err, &remoteErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes its mapped status. Internal failures are
// reported without detail.
func writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusNotFound:
		writeJSON(w, status, errorBody("not found"))
	case http.StatusInternalServerError:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, status, errorBody("internal error"))
	default:
		slog.Warn(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, status, errorBody(err.Error()))
	}
}

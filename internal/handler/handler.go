package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"stagehand/internal/service"
	"stagehand/internal/state"
)

// Error response structure
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn("failed to encode JSON", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, log *zap.Logger, error, details string, statusCode int) {
	writeJSON(w, log, ErrorResponse{
		Error:   error,
		Details: details,
	}, statusCode)
}

// statusFor maps room and state errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrMemberNotFound):
		return http.StatusNotFound
	case errors.Is(err, state.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, state.ErrInvalidOperation),
		errors.Is(err, state.ErrNotInitialized),
		errors.Is(err, state.ErrIllegalConstruction):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// getClientIP extracts the real client IP from the request
// Handles X-Forwarded-For and X-Real-IP headers from reverse proxies
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For first (may contain multiple IPs)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fall back to RemoteAddr (may include port)
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Package middleware provides HTTP middleware for the policy assistant.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
)

// APIKeyMiddleware rejects requests whose x-api-key header does not match
// the configured key. When no key is configured the check is skipped
// entirely and every request passes through.
type APIKeyMiddleware struct {
	apiKey string
	logger *slog.Logger
}

// NewAPIKeyMiddleware creates the middleware; an empty apiKey disables it.
func NewAPIKeyMiddleware(apiKey string, logger *slog.Logger) *APIKeyMiddleware {
	return &APIKeyMiddleware{
		apiKey: apiKey,
		logger: logger.With("component", "apikey-middleware"),
	}
}

// Middleware is the mux-compatible wrapper.
func (m *APIKeyMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.apiKey != "" {
			provided := r.Header.Get("x-api-key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(m.apiKey)) != 1 {
				m.logger.Warn("Rejected request with invalid API key",
					"path", r.URL.Path,
					"remote", r.RemoteAddr,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid API key"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

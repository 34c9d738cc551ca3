// ABOUTME: HTTP bearer-token authentication middleware for the control API
// ABOUTME: Extracts and verifies Authorization headers, stashing identity in context

package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// extractBearerToken pulls the token from an "Authorization: Bearer ..." header.
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// HTTPAuthMiddleware returns middleware that rejects requests without a valid
// bearer token. The verified operator identity is placed in the request context.
func HTTPAuthMiddleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			subject, err := verifier.Verify(token)
			if err != nil {
				logger.Warn("rejected control request",
					"path", r.URL.Path,
					"remote", r.RemoteAddr,
					"error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), subject)))
		})
	}
}

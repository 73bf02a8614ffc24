// ABOUTME: HTTP middleware for JWT authentication on the real-time endpoint
// ABOUTME: Takes the token from the Authorization header or the token query parameter

package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// TokenFromRequest returns the request's bearer token. Browsers cannot set
// headers on a WebSocket handshake, so ?token= is accepted when the header
// is absent.
func TokenFromRequest(r *http.Request) (string, string) {
	if r.Header.Get("Authorization") == "" {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, ""
		}
	}
	return extractBearerToken(r.Header.Get("Authorization"))
}

// HTTPAuthMiddleware rejects requests without a valid token and adds the
// caller's AuthContext to the request context. Pass nil logger for default.
func HTTPAuthMiddleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := TokenFromRequest(r)
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				logger.Debug("rejected token", "remote_addr", r.RemoteAddr, "error", err)
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), &AuthContext{UserID: userID})))
		})
	}
}

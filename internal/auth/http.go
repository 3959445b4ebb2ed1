// ABOUTME: HTTP middleware for JWT authentication on attendant API endpoints
// ABOUTME: Extracts JWT from Authorization header and adds attendant to context

package auth

import (
	"net/http"
	"strings"

	"github.com/parley-chat/parley/internal/store"
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

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates
// JWT tokens, resolves the attendant and attaches an AuthContext to the
// request context.
func HTTPAuthMiddleware(attendants store.Store, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			attendantID, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			att, err := attendants.GetAttendant(r.Context(), attendantID)
			if err != nil {
				http.Error(w, `{"error":"attendant not found"}`, http.StatusUnauthorized)
				return
			}

			authCtx := &AuthContext{
				AttendantID: att.ID,
				Username:    att.Username,
				Name:        att.Name,
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

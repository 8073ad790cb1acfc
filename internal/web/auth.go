package web

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenAuth validates the optional bearer token protecting the API.
type TokenAuth struct {
	token string
}

// NewTokenAuth creates a TokenAuth. An empty token disables authentication.
func NewTokenAuth(token string) *TokenAuth {
	return &TokenAuth{token: strings.TrimSpace(token)}
}

// Enabled indicates whether authentication is active.
func (a *TokenAuth) Enabled() bool {
	return a != nil && a.token != ""
}

// Validate reports whether r carries the configured token.
func (a *TokenAuth) Validate(r *http.Request) bool {
	if !a.Enabled() {
		return true
	}
	got := extractToken(r)
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(a.token)) == 1
}

// Middleware rejects requests without a valid token.
func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Validate(r) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="replaytap"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractToken reads the Authorization header, falling back to the token
// query parameter used by browser websocket clients.
func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return r.URL.Query().Get("token")
}

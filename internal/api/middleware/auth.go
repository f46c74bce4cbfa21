package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// BearerAuth validates bearer tokens and attaches the matching user id to
// the request context.
//
// Tokens are configured as comma-separated "token=user" pairs
// (TASKNEST_AUTH_TOKENS). When no tokens are configured auth is disabled:
// the identity is taken from the X-User-ID header instead, falling back to
// "default". That mode exists for local development only.
//
// The following paths are always public:
//   - /health
//   - /version
type BearerAuth struct {
	mu      sync.RWMutex
	tokens  map[string]string // token -> user id
	enabled bool
}

// NewBearerAuth parses the "token=user" pair list. Malformed pairs are
// skipped.
func NewBearerAuth(pairs string) *BearerAuth {
	auth := &BearerAuth{tokens: make(map[string]string)}

	for _, pair := range strings.Split(pairs, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, userID, ok := strings.Cut(pair, "=")
		if !ok || token == "" || userID == "" {
			continue
		}
		auth.tokens[token] = userID
		auth.enabled = true
	}

	return auth
}

// Enabled returns whether bearer token auth is active.
func (a *BearerAuth) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// Middleware returns an http.Handler middleware that authenticates the
// request and stores the user id in context.
func (a *BearerAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if !a.Enabled() {
			// Dev mode: trust the X-User-ID header.
			userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
			if userID == "" {
				userID = "default"
			}
			next.ServeHTTP(w, r.WithContext(SetUserID(r.Context(), userID)))
			return
		}

		token := extractToken(r)
		if token == "" {
			respondUnauthorized(w, "Authentication required. Set Authorization: Bearer <token>.")
			return
		}

		userID, ok := a.lookup(token)
		if !ok {
			respondUnauthorized(w, "Invalid token.")
			return
		}

		next.ServeHTTP(w, r.WithContext(SetUserID(r.Context(), userID)))
	})
}

// lookup resolves a token with constant-time comparison against every
// configured token, so timing doesn't reveal near-matches.
func (a *BearerAuth) lookup(candidate string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	userID := ""
	found := false
	for token, user := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			userID = user
			found = true
		}
	}
	return userID, found
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func isPublicPath(path string) bool {
	switch path {
	case "/health", "/version":
		return true
	}
	return false
}

func respondUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="tasknest"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": msg,
	})
}

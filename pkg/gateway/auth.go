package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// bearerToken extracts the caller's token. Websocket clients cannot set
// headers from a browser, so an access_token query parameter is accepted
// as a fallback.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, prefix) {
		return auth[len(prefix):]
	}
	return r.URL.Query().Get("access_token")
}

// authMiddleware validates the caller's bearer token against the configured
// API key with a constant-time compare. Public paths bypass auth, and an
// empty configured key disables auth entirely (open mode).
func authMiddleware(apiKey string, publicPaths []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, p := range publicPaths {
			if r.URL.Path == p {
				next.ServeHTTP(w, r)
				return
			}
		}

		if apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

package middleware

import (
	"net/http"
	"strings"
)

// contextKey is an unexported type used for context keys to avoid collisions.
type contextKey string

// Error codes used within middleware responses.
const (
	errCodeUnauthorized = "unauthorized"
)

// bearerToken extracts the token from an `Authorization: Bearer <token>`
// header, or the empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// RequireSourceAuth enforces `Authorization: Bearer <secretKey>` against the
// App already resolved onto the request context by AppMiddleware. The HTTP
// source request path (spec §4.4) always requires this; the WebSocket
// upgrade path does not use this middleware since a source key there is
// optional and arrives via query string instead (see UpgradeSourceKey).
func RequireSourceAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app, ok := GetApp(r.Context())
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "unknown app")
			return
		}
		key := bearerToken(r)
		if key == "" || key != app.SecretKey {
			writeError(w, http.StatusUnauthorized, errCodeUnauthorized, "invalid or missing source key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UpgradeSourceKey extracts the optional source key from an upgrade
// request's query string. Its presence (and equality with app.secretKey,
// checked by the caller) is what distinguishes a source connection from a
// sink one on the WebSocket upgrade path.
func UpgradeSourceKey(r *http.Request) string {
	if k := r.URL.Query().Get("sinkrKey"); k != "" {
		return k
	}
	return r.URL.Query().Get("appKey")
}

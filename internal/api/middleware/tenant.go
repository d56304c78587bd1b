package middleware

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Wundero/sinkr/internal/domain"
)

// appContextKey is the context key the resolved App is stored under.
const appContextKey contextKey = "app"

// AppLookup resolves an app by id, returning (nil, nil) on a miss rather
// than an error so the middleware can distinguish "unknown app" (404) from
// a genuine backend failure (500).
type AppLookup func(ctx context.Context, appID string) (*domain.App, error)

// GetApp extracts the App resolved by AppMiddleware from the request
// context.
func GetApp(ctx context.Context) (*domain.App, bool) {
	a, ok := ctx.Value(appContextKey).(*domain.App)
	return a, ok
}

// AppMiddleware resolves the {appId} path variable against lookup and
// rejects the request if the app is unknown or disabled, mirroring the
// upgrade path's own app check (spec §4.4) so every handler downstream of it
// can assume a live, enabled app without repeating the lookup.
func AppMiddleware(lookup AppLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			appID := mux.Vars(r)["appId"]
			app, err := lookup(r.Context(), appID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal_error", "failed to resolve app")
				return
			}
			if app == nil || !app.Enabled {
				writeError(w, http.StatusNotFound, "not_found", "unknown or disabled app")
				return
			}

			ctx := context.WithValue(r.Context(), appContextKey, app)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

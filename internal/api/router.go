package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Wundero/sinkr/internal/api/middleware"
)

// RouterConfig holds all dependencies required to build the API router.
// UpgradeHandler and SourceHandler are left untyped (http.Handler) so this
// package never needs to import internal/api/handlers, avoiding an import
// cycle (handlers imports middleware and api for its response helpers).
type RouterConfig struct {
	// AllowedOrigins for CORS. Use ["*"] during development.
	AllowedOrigins []string

	// AppLookup resolves the {appId} path variable to a tenant, used by
	// AppMiddleware ahead of both the upgrade and source routes.
	AppLookup middleware.AppLookup

	// UpgradeHandler serves GET /{appId}, promoting the connection to a
	// WebSocket and registering the new peer on a shard.
	UpgradeHandler http.Handler

	// SourceHandler serves POST /{appId}, the stateless HTTP equivalent of
	// a source's route requests. Requires RequireSourceAuth.
	SourceHandler http.Handler

	// HealthHandler serves GET /healthz.
	HealthHandler http.Handler
}

// NewRouter builds a fully-configured *mux.Router: the WebSocket upgrade
// and HTTP source routes per spec §4.4, plus operational endpoints for
// health checks and Prometheus scraping.
func NewRouter(cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()

	// ---- Global middleware (applied to every route) -----------------------
	// Order matters: outermost runs first.
	r.Use(middleware.RecoveryMiddleware)
	r.Use(middleware.LoggingMiddleware)
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(middleware.BodyLimitMiddleware)

	// ---- Operational endpoints, unauthenticated ----------------------------
	r.Handle("/healthz", handlerOrStub(cfg.HealthHandler)).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// ---- Per-app routes -----------------------------------------------------
	// Both routes resolve {appId} via AppMiddleware; the source route
	// additionally requires the app's secret key as a bearer token.
	appMW := middleware.AppMiddleware(cfg.AppLookup)
	r.Handle("/{appId}", appMW(handlerOrStub(cfg.UpgradeHandler))).Methods(http.MethodGet)
	r.Handle("/{appId}", appMW(middleware.RequireSourceAuth(handlerOrStub(cfg.SourceHandler)))).Methods(http.MethodPost, http.MethodOptions)

	return r
}

// handlerOrStub returns the provided handler if non-nil, otherwise a stub
// that responds with 501 Not Implemented.
func handlerOrStub(h http.Handler) http.Handler {
	if h != nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Error(w, http.StatusNotImplemented, "not_implemented", "this endpoint is not yet implemented")
	})
}

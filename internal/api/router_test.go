package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Wundero/sinkr/internal/domain"
)

func testAppLookup(apps map[string]*domain.App) func(context.Context, string) (*domain.App, error) {
	return func(_ context.Context, appID string) (*domain.App, error) {
		if app, ok := apps[appID]; ok {
			return app, nil
		}
		return nil, nil
	}
}

func TestNewRouter_HealthEndpoint(t *testing.T) {
	healthHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	router := NewRouter(RouterConfig{
		AllowedOrigins: []string{"*"},
		AppLookup:      testAppLookup(nil),
		HealthHandler:  healthHandler,
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", w.Code, w.Body.String())
	}
}

func TestNewRouter_MetricsEndpoint(t *testing.T) {
	router := NewRouter(RouterConfig{
		AllowedOrigins: []string{"*"},
		AppLookup:      testAppLookup(nil),
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestNewRouter_UpgradeRoute_UnknownAppRejected(t *testing.T) {
	router := NewRouter(RouterConfig{
		AllowedOrigins: []string{"*"},
		AppLookup:      testAppLookup(nil),
	})

	req := httptest.NewRequest(http.MethodGet, "/ghost", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown app, got %d", w.Code)
	}
}

func TestNewRouter_UpgradeRoute_StubReached(t *testing.T) {
	apps := map[string]*domain.App{
		"app1": {ID: "app1", SecretKey: "s3cr3t", Enabled: true},
	}
	router := NewRouter(RouterConfig{
		AllowedOrigins: []string{"*"},
		AppLookup:      testAppLookup(apps),
	})

	req := httptest.NewRequest(http.MethodGet, "/app1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// Stub returns 501 since no UpgradeHandler is configured; the
	// important thing is that it's not 404 (route not registered) or
	// 405 (method not allowed).
	if w.Code == http.StatusNotFound || w.Code == http.StatusMethodNotAllowed {
		t.Fatalf("upgrade route should be registered, got %d", w.Code)
	}
}

func TestNewRouter_SourceRoute_RequiresAuth(t *testing.T) {
	apps := map[string]*domain.App{
		"app1": {ID: "app1", SecretKey: "s3cr3t", Enabled: true},
	}
	router := NewRouter(RouterConfig{
		AllowedOrigins: []string{"*"},
		AppLookup:      testAppLookup(apps),
	})

	req := httptest.NewRequest(http.MethodPost, "/app1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", w.Code)
	}
}

func TestNewRouter_SourceRoute_StubReachedWithAuth(t *testing.T) {
	apps := map[string]*domain.App{
		"app1": {ID: "app1", SecretKey: "s3cr3t", Enabled: true},
	}
	router := NewRouter(RouterConfig{
		AllowedOrigins: []string{"*"},
		AppLookup:      testAppLookup(apps),
	})

	req := httptest.NewRequest(http.MethodPost, "/app1", nil)
	req.Header.Set("Authorization", "Bearer s3cr3t")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code == http.StatusNotFound || w.Code == http.StatusMethodNotAllowed || w.Code == http.StatusUnauthorized {
		t.Fatalf("source route should be registered and authorized, got %d", w.Code)
	}
}

func TestNewRouter_CORS_Preflight(t *testing.T) {
	router := NewRouter(RouterConfig{
		AllowedOrigins: []string{"https://app.sinkr.dev"},
		AppLookup:      testAppLookup(nil),
	})

	req := httptest.NewRequest(http.MethodOptions, "/healthz", nil)
	req.Header.Set("Origin", "https://app.sinkr.dev")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", w.Code)
	}
	if acao := w.Header().Get("Access-Control-Allow-Origin"); acao != "https://app.sinkr.dev" {
		t.Fatalf("expected ACAO header, got %q", acao)
	}
}

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wundero/sinkr/internal/domain"
)

func TestAppMiddleware_ResolvesEnabledApp(t *testing.T) {
	lookup := func(ctx context.Context, appID string) (*domain.App, error) {
		if appID == "app1" {
			return &domain.App{ID: "app1", SecretKey: "k", Enabled: true}, nil
		}
		return nil, nil
	}

	var seen *domain.App
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetApp(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	handler := AppMiddleware(lookup)(inner)

	req := httptest.NewRequest(http.MethodGet, "/app1", nil)
	req = mux.SetURLVars(req, map[string]string{"appId": "app1"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "app1", seen.ID)
}

func TestAppMiddleware_UnknownAppRejected(t *testing.T) {
	lookup := func(ctx context.Context, appID string) (*domain.App, error) { return nil, nil }
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	handler := AppMiddleware(lookup)(inner)

	req := httptest.NewRequest(http.MethodGet, "/ghost", nil)
	req = mux.SetURLVars(req, map[string]string{"appId": "ghost"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, called)
}

func TestAppMiddleware_DisabledAppRejected(t *testing.T) {
	lookup := func(ctx context.Context, appID string) (*domain.App, error) {
		return &domain.App{ID: "app1", Enabled: false}, nil
	}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	handler := AppMiddleware(lookup)(inner)

	req := httptest.NewRequest(http.MethodGet, "/app1", nil)
	req = mux.SetURLVars(req, map[string]string{"appId": "app1"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAppMiddleware_LookupErrorReturns500(t *testing.T) {
	lookup := func(ctx context.Context, appID string) (*domain.App, error) {
		return nil, assert.AnError
	}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	handler := AppMiddleware(lookup)(inner)

	req := httptest.NewRequest(http.MethodGet, "/app1", nil)
	req = mux.SetURLVars(req, map[string]string{"appId": "app1"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

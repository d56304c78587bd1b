package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/Wundero/sinkr/internal/api"
	"github.com/Wundero/sinkr/internal/api/middleware"
	"github.com/Wundero/sinkr/internal/protocol"
)

// maxSourceBodySize bounds a single HTTP source request body, matching the
// WebSocket source path's maxMessageSize limit (spec §4.4).
const maxSourceBodySize = 16 * 1024

// SourceHandler handles POST /{appId}: a stateless, authenticated
// equivalent of a source's WebSocket route requests, for callers that
// would rather make one-off HTTP calls than hold a socket open. It sits
// behind middleware.AppMiddleware and middleware.RequireSourceAuth.
type SourceHandler struct {
	Dispatcher Dispatcher
}

func NewSourceHandler(d Dispatcher) *SourceHandler {
	return &SourceHandler{Dispatcher: d}
}

func (h *SourceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	app, ok := middleware.GetApp(r.Context())
	if !ok {
		api.Error(w, http.StatusNotFound, api.ErrCodeNotFound, "unknown app")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSourceBodySize+1))
	if err != nil {
		api.Error(w, http.StatusBadRequest, api.ErrCodeInvalidRequest, "failed to read request body")
		return
	}
	if len(body) > maxSourceBodySize {
		api.Error(w, http.StatusRequestEntityTooLarge, api.ErrCodeFileTooLarge, "request body too large")
		return
	}

	var env protocol.RequestEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		api.Error(w, http.StatusBadRequest, api.ErrCodeInvalidRequest, "malformed request envelope")
		return
	}
	if env.Data.Route == "" {
		api.Error(w, http.StatusBadRequest, api.ErrCodeInvalidRequest, "missing route")
		return
	}

	resp, err := h.Dispatcher.Dispatch(r.Context(), app.ID, "", env.Data.Route, env.Data.Request)
	if err != nil {
		routeErr := protocol.AsRouteError(err)
		if routeErr == protocol.ErrInvalidRequest {
			slog.Debug("source request rejected", "route", env.Data.Route, "app_id", app.ID, "error", err)
		} else {
			slog.Warn("source request failed", "route", env.Data.Route, "app_id", app.ID, "error", err)
		}
		api.JSON(w, http.StatusOK, protocol.ResponseEnvelope{
			ID:       env.ID,
			Route:    env.Data.Route,
			Response: protocol.NewErrorResponse(routeErr),
		})
		return
	}

	api.JSON(w, http.StatusOK, protocol.ResponseEnvelope{ID: env.ID, Route: env.Data.Route, Response: resp})
}

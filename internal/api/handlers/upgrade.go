package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Wundero/sinkr/internal/api/middleware"
	"github.com/Wundero/sinkr/internal/coordinator"
	"github.com/Wundero/sinkr/internal/domain"
	"github.com/Wundero/sinkr/internal/metrics"
	"github.com/Wundero/sinkr/internal/protocol"
	"github.com/Wundero/sinkr/internal/store"
)

// UpgradeRateLimiter checks a per-app sliding-window limit before a socket
// is allowed to upgrade. Backed by internal/cache's Redis script.
type UpgradeRateLimiter interface {
	CheckUpgradeRateLimit(ctx context.Context, appID string, limit int, window time.Duration) (bool, error)
}

// UpgradeHandler handles GET /{appId}: it promotes the HTTP connection to
// a WebSocket, picks a shard, registers the new peer, and emits the
// connection's init frame (spec §4.4). Whether the connection behaves as
// a source or a sink is decided entirely by UpgradeSourceKey: a key that
// matches the app's secret makes it a source, anything else a sink.
type UpgradeHandler struct {
	Coordinator *coordinator.Coordinator
	Store       store.Store
	Dispatcher  Dispatcher
	Metrics     *metrics.Metrics
	RateLimiter UpgradeRateLimiter

	// AllowedOrigins restricts the WebSocket handshake's Origin header. A
	// single "*" allows any origin.
	AllowedOrigins []string

	// UpgradeRateLimit and UpgradeRateWindow bound how many upgrades a
	// single app may perform per window. UpgradeRateLimit <= 0 disables
	// the check.
	UpgradeRateLimit  int
	UpgradeRateWindow time.Duration
}

func NewUpgradeHandler(c *coordinator.Coordinator, s store.Store, d Dispatcher, m *metrics.Metrics) *UpgradeHandler {
	return &UpgradeHandler{Coordinator: c, Store: s, Dispatcher: d, Metrics: m, AllowedOrigins: []string{"*"}}
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
}

// originChecker builds a websocket.Upgrader.CheckOrigin func from a static
// allowlist, generalized from the teacher's CORS origin matching.
func originChecker(allowedOrigins []string) func(*http.Request) bool {
	for _, o := range allowedOrigins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := allowed[strings.ToLower(u.Host)]
		return ok
	}
}

func (h *UpgradeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	app, ok := middleware.GetApp(r.Context())
	if !ok {
		writeUpgradeError(w, http.StatusNotFound, "unknown app")
		return
	}

	if h.RateLimiter != nil && h.UpgradeRateLimit > 0 {
		allowed, err := h.RateLimiter.CheckUpgradeRateLimit(r.Context(), app.ID, h.UpgradeRateLimit, h.UpgradeRateWindow)
		if err != nil {
			slog.Error("upgrade rate limit check failed", "error", err, "app_id", app.ID)
		} else if !allowed {
			if h.Metrics != nil {
				h.Metrics.UpgradeRejected()
			}
			writeUpgradeError(w, http.StatusTooManyRequests, "upgrade rate limit exceeded")
			return
		}
	}

	peerType := domain.PeerSink
	if key := middleware.UpgradeSourceKey(r); key != "" && app.SecretKey != "" && key == app.SecretKey {
		peerType = domain.PeerSource
	}

	sh, err := h.Coordinator.SelectShardForUpgrade(r.Context())
	if err != nil {
		slog.Error("shard selection failed", "error", err, "app_id", app.ID)
		if h.Metrics != nil {
			h.Metrics.UpgradeRejected()
		}
		writeUpgradeError(w, http.StatusInternalServerError, "no shard available")
		return
	}

	upgrader := newUpgrader(h.AllowedOrigins)
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err, "app_id", app.ID)
		return
	}

	peerID := uuid.NewString()
	peer := &domain.Peer{
		ID:          peerID,
		AppID:       app.ID,
		Type:        peerType,
		ShardID:     sh.ID,
		ConnectedAt: time.Now().UTC(),
	}
	if err := h.Store.CreatePeer(r.Context(), peer); err != nil {
		slog.Error("create peer failed", "error", err, "app_id", app.ID)
		wsConn.Close()
		return
	}

	c := NewConn(wsConn, app.ID, peerID, peerType, h.Dispatcher, sh, func() {
		ctx := context.Background()
		if err := sh.UnregisterPeer(ctx, app.ID, peerID); err != nil {
			slog.Warn("unregister peer failed", "error", err, "app_id", app.ID, "peer_id", peerID)
		}
		if err := h.Store.DeletePeer(ctx, app.ID, peerID); err != nil {
			slog.Warn("delete peer failed", "error", err, "app_id", app.ID, "peer_id", peerID)
		}
		if h.Metrics != nil {
			h.Metrics.ConnectionClosed()
		}
	})

	if err := sh.RegisterPeer(r.Context(), app.ID, peerID, c); err != nil {
		slog.Error("register peer failed", "error", err, "app_id", app.ID, "peer_id", peerID)
		wsConn.Close()
		return
	}
	if h.Metrics != nil {
		h.Metrics.ConnectionOpened()
	}

	go c.WritePump()

	if err := c.SendFrame(protocol.NewMetadataFrame(uuid.NewString(), protocol.InitEvent(peerID))); err != nil {
		slog.Warn("failed to send init frame", "error", err, "app_id", app.ID, "peer_id", peerID)
	}

	c.ReadPump(r.Context())
}

func writeUpgradeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}

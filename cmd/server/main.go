// Command server runs the sinkr realtime fan-out process: the HTTP/
// WebSocket front door, the shard coordinator, and (optionally) the
// cross-replica relay, wired against a PostgreSQL store and a Redis cache.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Wundero/sinkr/internal/api"
	"github.com/Wundero/sinkr/internal/api/handlers"
	"github.com/Wundero/sinkr/internal/api/middleware"
	"github.com/Wundero/sinkr/internal/cache"
	"github.com/Wundero/sinkr/internal/config"
	"github.com/Wundero/sinkr/internal/coordinator"
	"github.com/Wundero/sinkr/internal/domain"
	"github.com/Wundero/sinkr/internal/metrics"
	"github.com/Wundero/sinkr/internal/replication"
	"github.com/Wundero/sinkr/internal/store"
)

func main() {
	// Load .env file if present (development convenience).
	_ = godotenv.Load()             // cmd/server/.env
	_ = godotenv.Load("../.env")    // running from cmd/server/ -> project root .env
	_ = godotenv.Load("../../.env") // running from repo root/cmd/*/ -> project root .env

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)
	slog.Info("starting sinkr", "port", cfg.HTTPPort, "env", cfg.Environment)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Store ---
	pg, err := store.NewPostgresStore(ctx, cfg.PostgresURL)
	if err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	// --- Cache / rate limiter ---
	redisCache, err := cache.NewCache(ctx, cfg.RedisURL)
	if err != nil {
		slog.Warn("redis cache unavailable; app lookups will always hit postgres", "error", err)
	}

	// --- Metrics ---
	m := metrics.New()

	// --- Coordinator ---
	logger := slog.Default()
	coord := coordinator.New(pg, logger, cfg.MaxConnectionsPerObject)
	coord.Start(ctx)

	// --- Cross-replica relay (optional) ---
	var relay *replication.Relay
	if cfg.ReplicationEnable {
		origin, hostErr := os.Hostname()
		if hostErr != nil || origin == "" {
			origin = "sinkr-" + time.Now().UTC().Format("150405")
		}
		relay, err = replication.Connect(cfg.NATSURL, origin, logger)
		if err != nil {
			slog.Error("failed to connect to NATS for replication", "error", err)
			os.Exit(1)
		}
		defer relay.Close()

		coord.SetRelay(relay)

		if _, err := relay.Subscribe(ctx, func(env replication.Envelope) {
			coord.ApplyRemote(ctx, env)
		}); err != nil {
			slog.Error("failed to subscribe to replication subject", "error", err)
			os.Exit(1)
		}
	}

	// --- App lookup: Redis read-through over Postgres ---
	appLookup := buildAppLookup(pg, redisCache)

	// --- Build handlers ---
	dispatcher := handlers.NewRouteDispatcher(coord, pg, m)

	upgradeHandler := handlers.NewUpgradeHandler(coord, pg, dispatcher, m)
	upgradeHandler.AllowedOrigins = []string{"*"}
	if redisCache != nil {
		upgradeHandler.RateLimiter = redisCache
		upgradeHandler.UpgradeRateLimit = 100
		upgradeHandler.UpgradeRateWindow = time.Minute
	}

	sourceHandler := handlers.NewSourceHandler(dispatcher)

	healthPing := func(ctx context.Context) error { return pg.Ping(ctx) }
	natsPing := func(ctx context.Context) error {
		if relay == nil {
			return nil
		}
		return relay.Ping()
	}
	redisPing := func(ctx context.Context) error {
		if redisCache == nil {
			return nil
		}
		return redisCache.Ping(ctx)
	}
	healthHandler := handlers.NewHealthHandler(healthPing, natsPing, redisPing)

	// --- Build router ---
	router := api.NewRouter(api.RouterConfig{
		AllowedOrigins: []string{"*"},
		AppLookup:      appLookup,
		UpgradeHandler: upgradeHandler,
		SourceHandler:  sourceHandler,
		HealthHandler:  healthHandler,
	})

	// --- Start HTTP server ---
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	// --- Graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("sinkr stopped")
}

// buildAppLookup wires a middleware.AppLookup that checks the Redis cache
// first and falls back to Postgres on a miss, populating the cache for
// next time. Without a cache it reads straight through to Postgres.
func buildAppLookup(pg *store.PostgresStore, c *cache.Cache) middleware.AppLookup {
	if c == nil {
		return pg.GetApp
	}
	return func(ctx context.Context, appID string) (*domain.App, error) {
		cached, err := c.GetApp(ctx, appID)
		if err != nil {
			slog.Warn("app cache read failed", "error", err, "app_id", appID)
		} else if cached != nil {
			return cached, nil
		}

		app, err := pg.GetApp(ctx, appID)
		if err != nil || app == nil {
			return app, err
		}
		if putErr := c.PutApp(ctx, *app, 5*time.Minute); putErr != nil {
			slog.Warn("app cache write failed", "error", putErr, "app_id", appID)
		}
		return app, nil
	}
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

// Package cache provides a Redis-backed read-through cache for App lookups
// and a sliding-window rate limiter for the upgrade path, both ambient
// concerns the Store interface itself does not need to know about.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Wundero/sinkr/internal/domain"
)

// Cache wraps a redis.Client.
type Cache struct {
	client *redis.Client
}

// NewCache creates a new Redis-backed cache from the given connection URL.
func NewCache(ctx context.Context, url string) (*Cache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: ping: %w", err)
	}

	return &Cache{client: client}, nil
}

func (c *Cache) Close() error { return c.client.Close() }

func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

// AppKey namespaces a cache entry by appId, following the teacher's
// TenantKey convention.
func (c *Cache) AppKey(appID string) string {
	return fmt.Sprintf("sinkr:app:%s", appID)
}

// GetApp returns a cached App, or (nil, nil) on a cache miss.
func (c *Cache) GetApp(ctx context.Context, appID string) (*domain.App, error) {
	raw, err := c.client.Get(ctx, c.AppKey(appID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get app: %w", err)
	}
	var a domain.App
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("cache: decode app: %w", err)
	}
	return &a, nil
}

// PutApp caches an App for ttl.
func (c *Cache) PutApp(ctx context.Context, a domain.App, ttl time.Duration) error {
	encoded, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("cache: encode app: %w", err)
	}
	if err := c.client.Set(ctx, c.AppKey(a.ID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("cache: put app: %w", err)
	}
	return nil
}

// InvalidateApp drops a cached App, used when the tenant registry reports
// a change (enabled flag flip, secret rotation) out of band.
func (c *Cache) InvalidateApp(ctx context.Context, appID string) error {
	if err := c.client.Del(ctx, c.AppKey(appID)).Err(); err != nil {
		return fmt.Errorf("cache: invalidate app: %w", err)
	}
	return nil
}

// rateLimitScript is a sliding-window limiter: trim entries older than the
// window, count what remains, and admit the request only if under limit,
// atomically so concurrent upgrades from the same app can't race past the
// cap. Adapted from the teacher's CheckRateLimit Lua script.
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	return 0
end
redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('PEXPIRE', key, window)
return 1
`)

// CheckUpgradeRateLimit enforces a per-app sliding-window cap on new
// WebSocket upgrades, ahead of the coordinator's connection-count cap —
// it protects a single shard from being starved by one noisy tenant before
// MAX_CONNECTIONS_PER_OBJECT ever comes into play.
func (c *Cache) CheckUpgradeRateLimit(ctx context.Context, appID string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf("sinkr:ratelimit:upgrade:%s", appID)
	res, err := rateLimitScript.Run(ctx, c.client, []string{key},
		time.Now().UnixMilli(), window.Milliseconds(), limit).Int()
	if err != nil {
		return false, fmt.Errorf("cache: check rate limit: %w", err)
	}
	return res == 1, nil
}

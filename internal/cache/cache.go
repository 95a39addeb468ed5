// Package cache provides an optional Redis-backed read-through cache for
// the aggregation engine's dashboard queries. It is strictly an
// optimization: every miss, connection failure, or decode error falls
// through to a reported miss so callers always fall back to a live query.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/testorch/internal/logging"
)

// DefaultTTL is how long a cached dashboard query result is trusted before
// the next read bypasses the cache.
const DefaultTTL = 15 * time.Second

// Cache wraps a Redis client. A nil *Cache (or one built with an empty URL)
// is valid and behaves as an always-miss cache, so callers never need a nil
// check of their own.
type Cache struct {
	client *redis.Client
	log    *logging.Logger
}

// NewFromURL connects to redisURL and returns a Cache. An empty redisURL
// returns a disabled Cache (every Get is a miss, every Set a no-op) rather
// than an error, since the cache is optional ambient infrastructure.
func NewFromURL(redisURL string, log *logging.Logger) *Cache {
	redisURL = strings.TrimSpace(redisURL)
	if redisURL == "" {
		return &Cache{log: log}
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.WithError(err).Warn("invalid REDIS_URL; dashboard cache disabled")
		return &Cache{log: log}
	}

	return &Cache{client: redis.NewClient(opts), log: log}
}

// Enabled reports whether the cache has a live Redis connection configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// Get decodes the cached value for key into dest. It returns false on a
// miss, a decode error, or any Redis error — callers treat all three
// identically by falling through to a live query.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) bool {
	if !c.Enabled() {
		return false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithContext(ctx).WithError(err).Warn("dashboard cache get failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.log.WithContext(ctx).WithError(err).Warn("dashboard cache decode failed")
		return false
	}
	return true
}

// Set stores value under key with the given TTL. Errors are logged, never
// returned: a failed write degrades to no caching, not a request failure.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		c.log.WithContext(ctx).WithError(err).Warn("dashboard cache encode failed")
		return
	}
	if err := c.client.Set(ctx, key, encoded, ttl).Err(); err != nil {
		c.log.WithContext(ctx).WithError(err).Warn("dashboard cache set failed")
	}
}

// Close releases the underlying Redis connection, if any.
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}

// Package cache provides the campaign caching layer in front of the
// Campaign Store. It abstracts the interaction with Redis, handling
// serialization, key namespacing, and connection management.
//
// The cache is strictly an optimization: every operation swallows the
// underlying fault and degrades to absence (Get) or a no-op (Set,
// Invalidate). Nothing in this package may surface an error to the
// delivery path.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nudgekit/herald/internal/campaign"
	"github.com/nudgekit/herald/internal/observability"
)

// keyFormat namespaces the per-screen candidate lists.
// Example: "nudge:org-42:home:active"
const keyFormat = "nudge:%s:%s:active"

// Key builds the cache key for an (organization, screen) pair.
// The write path uses the same function when invalidating, so the two
// sides can never drift apart on the key scheme.
func Key(orgID, screen string) string {
	return fmt.Sprintf(keyFormat, orgID, screen)
}

// Service defines the interface for campaign cache operations.
// This interface allows for dependency injection and fault-injecting
// fakes in tests.
type Service interface {
	// Get returns the cached candidate list for the key, or ok=false on
	// a miss or any underlying fault.
	Get(ctx context.Context, orgID, screen string) ([]campaign.Campaign, bool)

	// Set replaces the whole candidate list for the key with the given TTL.
	// Partial updates do not exist: last writer wins.
	Set(ctx context.Context, orgID, screen string, campaigns []campaign.Campaign, ttl time.Duration)

	// Invalidate drops the candidate list for the key.
	Invalidate(ctx context.Context, orgID, screen string)

	// HealthCheck pings the backing store to ensure connectivity.
	HealthCheck(ctx context.Context) error

	// Close terminates the connection.
	Close() error
}

// Compile-time check that RedisCache satisfies Service.
var _ Service = (*RedisCache)(nil)

// RedisCache implements Service using the go-redis library.
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisCache wraps an initialized Redis client.
// If logger is nil, it defaults to slog.Default().
func NewRedisCache(client *redis.Client, logger *slog.Logger) *RedisCache {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, logger: logger}
}

// Get retrieves the candidate list for (orgID, screen).
// Connection faults and corrupt payloads are both reported as a miss; the
// caller falls through to the Campaign Store either way.
func (c *RedisCache) Get(ctx context.Context, orgID, screen string) ([]campaign.Campaign, bool) {
	key := Key(orgID, screen)

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache read failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			observability.CacheErrors.WithLabelValues("get").Inc()
		}
		observability.CacheMisses.Inc()
		return nil, false
	}

	var campaigns []campaign.Campaign
	if err := json.Unmarshal(data, &campaigns); err != nil {
		// A corrupt entry is unreadable forever; drop it so the next
		// write-back repairs the key instead of logging on every fetch.
		c.logger.Warn("cache entry corrupt, dropping",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		observability.CacheErrors.WithLabelValues("get").Inc()
		c.client.Del(ctx, key)
		observability.CacheMisses.Inc()
		return nil, false
	}

	observability.CacheHits.Inc()
	return campaigns, true
}

// Set replaces the candidate list for (orgID, screen).
// Serialization and write faults are absorbed; the entry simply stays
// absent and the next fetch pays the store query again.
func (c *RedisCache) Set(ctx context.Context, orgID, screen string, campaigns []campaign.Campaign, ttl time.Duration) {
	key := Key(orgID, screen)

	data, err := json.Marshal(campaigns)
	if err != nil {
		c.logger.Warn("cache serialization failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		observability.CacheErrors.WithLabelValues("set").Inc()
		return
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn("cache write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		observability.CacheErrors.WithLabelValues("set").Inc()
	}
}

// Invalidate drops the candidate list for (orgID, screen). Used by the
// campaign write path so status or screen changes take effect on the very
// next fetch instead of waiting out the TTL.
func (c *RedisCache) Invalidate(ctx context.Context, orgID, screen string) {
	key := Key(orgID, screen)

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("cache invalidate failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		observability.CacheErrors.WithLabelValues("invalidate").Inc()
		return
	}
	observability.CacheInvalidations.Inc()
}

// HealthCheck verifies the connection to the Redis server.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

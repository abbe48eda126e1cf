package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// HealthChecker implements the observability.Checker interface for Redis.
// Readiness reports the cache as a dependency even though delivery survives
// without it: a pod that cannot reach Redis will hammer PostgreSQL on every
// fetch, so surfacing the degradation early is still worth it.
type HealthChecker struct {
	client *redis.Client
}

// NewHealthChecker creates a new health checker for the given Redis client.
func NewHealthChecker(client *redis.Client) *HealthChecker {
	return &HealthChecker{client: client}
}

// Name returns the component name.
func (h *HealthChecker) Name() string {
	return "redis"
}

// Check verifies the Redis connection using Ping.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	return h.client.Ping(ctx).Err()
}

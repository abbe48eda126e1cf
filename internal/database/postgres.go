// Package database provides the PostgreSQL connection factory and pool
// instrumentation shared by the campaign, event, and end-user stores.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nudgekit/herald/internal/config"
	"github.com/nudgekit/herald/internal/observability"
)

// NewPostgresPool initializes a PostgreSQL connection pool from config.
// It returns the pool directly, allowing the caller to manage the lifecycle
// via Dependency Injection.
func NewPostgresPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config cannot be nil")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Pool tuning. MaxConns prevents the app from starving the DB;
	// MinConns keeps some connections warm to reduce latency for new requests.
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	// Short timeout on creation for fail-fast behavior.
	initCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(initCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection immediately to ensure the network is healthy.
	if err := pool.Ping(initCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunPoolMonitor periodically exports pgx pool statistics as Prometheus
// gauges/counters. It blocks until ctx is cancelled, so run it in its own
// goroutine from the composition root.
func RunPoolMonitor(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// pgx exposes cumulative counters; prometheus counters can only be
	// incremented, so we track the last observed value and add the delta.
	var lastAcquireCount int64
	var lastAcquireDuration time.Duration
	var lastEmptyAcquire int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := pool.Stat()

			observability.DatabasePoolConnections.WithLabelValues("total").Set(float64(stat.TotalConns()))
			observability.DatabasePoolConnections.WithLabelValues("idle").Set(float64(stat.IdleConns()))
			observability.DatabasePoolConnections.WithLabelValues("in_use").Set(float64(stat.AcquiredConns()))
			observability.DatabasePoolConnections.WithLabelValues("max").Set(float64(stat.MaxConns()))

			if delta := stat.AcquireCount() - lastAcquireCount; delta > 0 {
				observability.DatabasePoolAcquireCount.Add(float64(delta))
				lastAcquireCount = stat.AcquireCount()
			}
			if delta := stat.AcquireDuration() - lastAcquireDuration; delta > 0 {
				observability.DatabasePoolAcquireDuration.Add(delta.Seconds())
				lastAcquireDuration = stat.AcquireDuration()
			}
			if delta := stat.EmptyAcquireCount() - lastEmptyAcquire; delta > 0 {
				observability.DatabasePoolWaitCount.Add(float64(delta))
				lastEmptyAcquire = stat.EmptyAcquireCount()
			}
		}
	}
}

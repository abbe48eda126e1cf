//go:build integration

package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nudgekit/herald/internal/config"
	"github.com/nudgekit/herald/internal/database"
	"github.com/nudgekit/herald/internal/testsupport"
)

func TestPostgres_PoolMetrics_Integration(t *testing.T) {
	ctx := context.Background()
	pgCtr, err := testsupport.StartPostgresContainer(ctx, "../../migrations")
	require.NoError(t, err)
	defer pgCtr.Terminate(ctx)

	// Small max to force queuing so exhaustion is easy to provoke.
	dbCfg := &config.DatabaseConfig{
		URL:            pgCtr.ConnectionString,
		MaxConns:       5,
		MinConns:       2,
		ConnectTimeout: 5 * time.Second,
	}

	pool, err := database.NewPostgresPool(ctx, dbCfg)
	require.NoError(t, err)
	defer pool.Close()

	monitorCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go database.RunPoolMonitor(monitorCtx, pool, 10*time.Millisecond)

	// Establish a couple of idle connections before sampling.
	conn1, err := pool.Acquire(ctx)
	require.NoError(t, err)
	conn2, err := pool.Acquire(ctx)
	require.NoError(t, err)
	conn1.Release()
	conn2.Release()

	t.Run("reports pool configuration and gauge bounds", func(t *testing.T) {
		require.Eventually(t, func() bool {
			max := testsupport.GetMetricValue(t, "herald_database_pool_connections", map[string]string{"state": "max"})
			return max == 5
		}, 2*time.Second, 10*time.Millisecond, "metric 'max' connections mismatch")

		require.Eventually(t, func() bool {
			total := testsupport.GetMetricValue(t, "herald_database_pool_connections", map[string]string{"state": "total"})
			idle := testsupport.GetMetricValue(t, "herald_database_pool_connections", map[string]string{"state": "idle"})
			inUse := testsupport.GetMetricValue(t, "herald_database_pool_connections", map[string]string{"state": "in_use"})
			max := testsupport.GetMetricValue(t, "herald_database_pool_connections", map[string]string{"state": "max"})
			return total >= 0 && idle >= 0 && inUse >= 0 && total <= max
		}, 2*time.Second, 10*time.Millisecond, "failed to scrape database pool gauges with valid bounds")

		// MaxConns must actually be enforced.
		var held []*pgxpool.Conn
		for range 5 {
			conn, err := pool.Acquire(ctx)
			require.NoError(t, err)
			held = append(held, conn)
		}
		defer func() {
			for _, c := range held {
				c.Release()
			}
		}()

		timeoutCtx, cancelAcquire := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancelAcquire()

		_, err := pool.Acquire(timeoutCtx)
		require.Error(t, err, "6th acquisition must fail when pool is at MaxConns=5")
	})

	t.Run("tracks acquisition counts and duration", func(t *testing.T) {
		initial := testsupport.GetMetricValue(t, "herald_database_pool_acquire_count_total", nil)

		for range 5 {
			conn, err := pool.Acquire(ctx)
			require.NoError(t, err)
			time.Sleep(2 * time.Millisecond)
			conn.Release()
		}

		require.Eventually(t, func() bool {
			current := testsupport.GetMetricValue(t, "herald_database_pool_acquire_count_total", nil)
			return current >= initial+5
		}, 2*time.Second, 10*time.Millisecond, "acquire_count delta mismatch")

		duration := testsupport.GetMetricValue(t, "herald_database_pool_acquire_duration_seconds_total", nil)
		assert.Greater(t, duration, 0.0, "acquire_duration should be recorded")
	})

	t.Run("tracks wait count when pool is exhausted", func(t *testing.T) {
		var held []*pgxpool.Conn
		for range 5 {
			c, err := pool.Acquire(ctx)
			require.NoError(t, err)
			held = append(held, c)
		}

		done := make(chan struct{})
		go func() {
			c, err := pool.Acquire(ctx)
			if err == nil {
				c.Release()
			}
			close(done)
		}()

		// Let the blocked acquire register as a wait before unblocking it.
		time.Sleep(50 * time.Millisecond)

		held[0].Release()
		held = held[1:]

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for blocked connection")
		}

		for _, c := range held {
			c.Release()
		}

		require.Eventually(t, func() bool {
			waitCount := testsupport.GetMetricValue(t, "herald_database_pool_wait_count_total", nil)
			return waitCount >= 1
		}, 2*time.Second, 10*time.Millisecond, "wait_count should increment on pool exhaustion")
	})
}

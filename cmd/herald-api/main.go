// Command herald-api runs the nudge delivery service: the SDK-facing
// delivery endpoints, the campaign management endpoints, and a dedicated
// observability listener with metrics and health probes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nudgekit/herald/internal/cache"
	"github.com/nudgekit/herald/internal/config"
	"github.com/nudgekit/herald/internal/database"
	"github.com/nudgekit/herald/internal/delivery"
	"github.com/nudgekit/herald/internal/deliveryapi"
	"github.com/nudgekit/herald/internal/logger"
	"github.com/nudgekit/herald/internal/observability"
	"github.com/nudgekit/herald/internal/profile"
	"github.com/nudgekit/herald/internal/ruleengine"
	"github.com/nudgekit/herald/internal/store"
	"github.com/nudgekit/herald/internal/suppression"
)

func main() {
	if err := run(); err != nil {
		slog.Error("service exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	campaignCache := cache.NewRedisCache(redisClient, log)
	defer campaignCache.Close()

	go database.RunPoolMonitor(ctx, pool, 15*time.Second)

	// --- Repositories ---

	campaigns := store.NewCampaignStore(pool)
	events := store.NewEventStore(pool)
	users := store.NewUserStore(pool)
	orgs := store.NewOrganizationStore(pool)

	// --- Delivery engine ---

	engine := delivery.NewEngine(
		campaignCache,
		campaigns,
		profile.NewResolver(users, log),
		ruleengine.New(log),
		suppression.NewChecker(events, cfg.Cache.SessionWindow, log),
		events,
		cfg.Cache.CampaignTTL,
		log,
	)

	// --- HTTP surface ---

	api, err := deliveryapi.NewAPI(deliveryapi.Config{
		Engine:        engine,
		Campaigns:     campaigns,
		Events:        events,
		Users:         users,
		Orgs:          orgs,
		Cache:         campaignCache,
		AuthCacheSize: cfg.Server.AuthCacheSize,
		AuthCacheTTL:  cfg.Server.AuthCacheTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to build api: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.Router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	// --- Observability server ---

	obs := observability.NewServer(log, &cfg.Observability,
		database.NewHealthChecker(pool),
		cache.NewHealthChecker(redisClient),
	)
	obs.Start()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting api server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Block until a shutdown signal arrives or the server dies.
	select {
	case err := <-serveErr:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("observability server shutdown failed: %w", err)
	}

	log.Info("service stopped cleanly")
	return nil
}

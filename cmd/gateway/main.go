// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Command gateway is the entry point for the restgate HTTP gateway.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Connect to PostgreSQL (pgxpool).
//  4. Connect to Redis.
//  5. Run database migrations (idempotent).
//  6. Wire the session store and authorize manager.
//  7. Start the metadata change feed.
//  8. Start HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taibuivan/restgate/internal/api"
	"github.com/taibuivan/restgate/internal/authz"
	"github.com/taibuivan/restgate/internal/metadata"
	"github.com/taibuivan/restgate/internal/platform/config"
	"github.com/taibuivan/restgate/internal/platform/constants"
	"github.com/taibuivan/restgate/internal/platform/migration"
	pgstore "github.com/taibuivan/restgate/internal/platform/postgres"
	redisstore "github.com/taibuivan/restgate/internal/platform/redis"
	"github.com/taibuivan/restgate/internal/ratelimit"
	"github.com/taibuivan/restgate/internal/session"
)

// metadataPollInterval is how often the change feed compares the database
// change marker against its cursor. Polls are a single aggregate query, so
// this can stay short without measurable load.
const metadataPollInterval = 5 * time.Second

// Idle throttle entries are swept on this cadence so one-off client
// addresses and probed account names do not accumulate for the process
// lifetime.
const (
	limiterPurgeInterval = time.Minute
	limiterIdleFor       = 10 * time.Minute
)

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Add global context to all log entries.
	log := rawLog.With(slog.String("app", constants.AppName))
	slog.SetDefault(log)

	log.Info("[restgate] service_initializing")

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		debugLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		log = debugLog.With(slog.String("app", constants.AppName))
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
		slog.Bool("bearer_tokens", cfg.JWTSecret != ""),
	)

	// Root context for startup. Use a 30s deadline so misconfiguration is
	// caught quickly rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// ── 3. PostgreSQL ─────────────────────────────────────────────────────
	pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
	must(log, err, "connect to postgres")
	defer func() {
		log.Info("closing postgres pool")
		pool.Close()
	}()

	// ── 4. Redis ──────────────────────────────────────────────────────────
	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	must(log, err, "connect to redis")
	defer func() {
		log.Info("closing redis client")
		if cerr := rdb.Close(); cerr != nil {
			log.Error("redis close error", slog.Any("error", cerr))
		}
	}()

	// ── 5. Migrations ─────────────────────────────────────────────────────
	must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

	// ── 6. Health handlers (wired with real dependency checkers) ──────────
	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{
		CheckDatabase: func() error {
			return pgstore.Ping(context.Background(), pool)
		},
		CheckCache: func() error {
			return redisstore.Ping(context.Background(), rdb)
		},
	}, log)

	// ── 7. Metadata Repositories ──────────────────────────────────────────
	users := metadata.NewCachedUserStore(metadata.NewUserStore(pool), rdb)
	apps := metadata.NewAppRepository(pool)
	services := metadata.NewServiceRepository(pool)

	// ── 8. Sessions & Authorize Manager ───────────────────────────────────
	sessions := session.NewStore(session.Config{
		ExpireAfter:           time.Duration(cfg.SessionExpireMinutes) * time.Minute,
		InactivityTimeout:     time.Duration(cfg.SessionInactivityMinutes) * time.Minute,
		MaxPassthroughPerUser: cfg.MaxPassthroughPerUser,
	})

	blockFor := time.Duration(cfg.BlockWhenExceededSeconds) * time.Second
	manager := authz.NewManager(users, sessions, nil, log, authz.Options{
		RouterID:      cfg.RouterID,
		SupportsHTTPS: cfg.SupportsHTTPS,
		JWTSecret:     cfg.JWTSecret,
		JWTExpire:     time.Duration(cfg.JWTExpireMinutes) * time.Minute,
		AccountLimit: ratelimit.Config{
			MaxPerMinute: cfg.AccountMaxAttemptsPerMinute,
			MinimumGap:   time.Duration(cfg.AccountMinTimeBetweenMs) * time.Millisecond,
			BlockFor:     blockFor,
		},
		HostLimit: ratelimit.Config{
			MaxPerMinute: cfg.HostMaxAttemptsPerMinute,
			MinimumGap:   time.Duration(cfg.HostMinTimeBetweenMs) * time.Millisecond,
			BlockFor:     blockFor,
		},
	})

	// Load the handler registry once before serving so the first request
	// never races the change feed.
	must(log, manager.Update(startupCtx, mustListApps(startupCtx, log, apps)), "load auth app registry")

	// ── 9. Metadata Change Feed ───────────────────────────────────────────
	feedCtx, feedCancel := context.WithCancel(context.Background())
	defer feedCancel()

	feed := metadata.NewChangeFeed(apps, metadataPollInterval, log, manager.Update)
	go feed.Run(feedCtx)
	go manager.RunLimiterJanitor(feedCtx, limiterPurgeInterval, limiterIdleFor)

	// ── 10. HTTP Server ───────────────────────────────────────────────────
	handlers := api.Handlers{
		Liveness:  liveness,
		Readiness: readiness,
		Auth:      api.NewAuthHandler(manager, services, cfg.SupportsHTTPS),
		Access:    api.NewAccessHandler(manager, services),
	}

	server := api.NewServer(feedCtx, cfg, log, handlers)

	// ── 11. Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server startup error", slog.Any("error", err))
	}

	// Stop the change feed before draining requests.
	feedCancel()

	// Give in-flight requests enough time to complete.
	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("server stopped cleanly")
}

// mustListApps loads the initial auth app list or terminates the process.
func mustListApps(ctx context.Context, log *slog.Logger, apps metadata.AppRepository) []*metadata.AuthApp {
	list, err := apps.ListActive(ctx)
	must(log, err, "list auth apps")
	return list
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}

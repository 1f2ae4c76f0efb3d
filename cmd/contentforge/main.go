// ContentForge server — HTTP API, background job runners and the
// maintenance scheduler for the content-generation service.
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
	"github.com/redis/go-redis/v9"

	"github.com/contentforge/contentforge/pkg/api"
	"github.com/contentforge/contentforge/pkg/cache"
	"github.com/contentforge/contentforge/pkg/config"
	"github.com/contentforge/contentforge/pkg/database"
	"github.com/contentforge/contentforge/pkg/events"
	"github.com/contentforge/contentforge/pkg/runner"
	"github.com/contentforge/contentforge/pkg/scheduler"
	"github.com/contentforge/contentforge/pkg/services"
	"github.com/contentforge/contentforge/pkg/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting ContentForge", "http_port", cfg.HTTPPort)

	ctx := context.Background()

	db, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = redisClient.Close() }()

	// Event store: redis primary with an in-process fallback so progress
	// keeps flowing through a redis outage.
	var eventStore events.Store
	memStore := events.NewMemoryStore(events.DefaultWindow, events.DefaultTTL)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	redisUp := redisClient.Ping(pingCtx).Err() == nil
	cancel()
	var contentCache cache.ContentCache
	if redisUp {
		eventStore = events.NewFallbackStore(
			events.NewRedisStore(redisClient, events.DefaultWindow, events.DefaultTTL),
			memStore,
		)
		contentCache = cache.NewRedisContentCache(redisClient, cfg.Runner.ContentCacheTTL)
		slog.Info("Connected to redis", "addr", cfg.Redis.Addr)
	} else {
		eventStore = memStore
		contentCache = cache.NoopContentCache{}
		slog.Warn("Redis unreachable, using in-memory event store and no content cache", "addr", cfg.Redis.Addr)
	}

	blobs, err := storage.NewLocalStorage(getEnv("BLOB_DIR", "./data/blobs"), getEnv("BLOB_BASE_URL", "/files"))
	if err != nil {
		slog.Error("Failed to initialize blob storage", "error", err)
		os.Exit(1)
	}

	jobService := services.NewJobService(db)
	usageService := services.NewUsageService(db)
	planService := services.NewPlanService(db, cfg.Plans, usageService)
	orgService := services.NewOrgService(db)
	accountService := services.NewAccountService(db, cfg.Retention.DeletionGraceDays)
	retentionService := services.NewRetentionService(db, cfg.Plans)
	billingService := services.NewBillingService(db)
	auditService := services.NewAuditService(db)
	slog.Info("Services initialized")

	moderator := newModerator(cfg.Runner.ModerationEnabled)
	registry := runner.NewRegistry()
	jobRunner := runner.New(runner.Deps{
		Jobs:      jobService,
		Plans:     planService,
		Usage:     usageService,
		Accounts:  accountService,
		Events:    eventStore,
		Cache:     contentCache,
		LLM:       newLLMRuntime(),
		TTS:       newTTSProvider(),
		Video:     newVideoRenderer(),
		Moderator: moderator,
		Storage:   blobs,
		Registry:  registry,
		Config:    cfg.Runner,
	})

	sched, err := scheduler.New(retentionService, accountService, newEmailProvider(), blobs, cfg.Retention)
	if err != nil {
		slog.Error("Failed to create scheduler", "error", err)
		os.Exit(1)
	}
	if err := sched.Start(); err != nil {
		slog.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			slog.Error("Scheduler stop error", "error", err)
		}
	}()

	server := api.NewServer(api.Deps{
		Config:    cfg,
		DB:        db,
		Jobs:      jobService,
		Plans:     planService,
		Orgs:      orgService,
		Billing:   billingService,
		Audit:     auditService,
		Events:    eventStore,
		Runner:    jobRunner,
		Registry:  registry,
		Gateway:   newBillingGateway(),
		Moderator: moderator,
		Storage:   blobs,
		Auth:      newAuthProvider(db),
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

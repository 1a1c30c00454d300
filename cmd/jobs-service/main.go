// jobs-service is the HTTP API server for documentation-generation jobs.
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

	goredis "github.com/redis/go-redis/v9"

	"docjobs/internal/api"
	"docjobs/internal/config"
	"docjobs/internal/dispatcher"
	"docjobs/internal/health"
	"docjobs/internal/job"
	"docjobs/internal/launcher/docker"
	"docjobs/internal/observability"
	"docjobs/internal/ratelimit"
	"docjobs/internal/store/memory"
	"docjobs/internal/store/postgres"
	"docjobs/internal/store/redis"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

// backend is the selected store: the job store, its catalog, and optionally
// a redis client shared with the rate limiter.
type backend struct {
	store   job.Store
	catalog job.Catalog
	redis   goredis.UniversalClient
	close   func()
}

// catalogWriter is implemented by the durable stores so a YAML seed can be
// loaded into them at startup.
type catalogWriter interface {
	UpsertRepository(ctx context.Context, r job.Repository) error
	UpsertUser(ctx context.Context, u job.User) error
}

func openBackend(ctx context.Context, cfg *config.ServiceConfig) (*backend, error) {
	var seed *memory.Catalog
	if cfg.CatalogFile != "" {
		var err error
		if seed, err = memory.LoadCatalogFile(cfg.CatalogFile); err != nil {
			return nil, err
		}
	}

	switch cfg.StoreDriver {
	case config.StoreMemory:
		if seed == nil {
			seed = memory.NewCatalog()
			slog.Warn("Memory store running with an empty catalog - set CATALOG_FILE")
		}
		return &backend{store: memory.New(), catalog: seed, close: func() {}}, nil

	case config.StorePostgres:
		s, err := postgres.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		if err := seedCatalog(ctx, s, seed); err != nil {
			s.Close()
			return nil, err
		}
		return &backend{store: s, catalog: s, close: s.Close}, nil

	case config.StoreRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		s := redis.New(client)
		if err := s.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, err
		}
		if err := seedCatalog(ctx, s, seed); err != nil {
			_ = client.Close()
			return nil, err
		}
		return &backend{store: s, catalog: s, redis: client, close: func() { _ = client.Close() }}, nil

	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func seedCatalog(ctx context.Context, w catalogWriter, seed *memory.Catalog) error {
	if seed == nil {
		return nil
	}
	for _, r := range seed.Repositories() {
		if err := w.UpsertRepository(ctx, r); err != nil {
			return fmt.Errorf("seed repository %s: %w", r.ID, err)
		}
	}
	for _, u := range seed.Users() {
		if err := w.UpsertUser(ctx, u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	slog.Info("Catalog seeded", "repositories", len(seed.Repositories()), "users", len(seed.Users()))
	return nil
}

func run() error {
	ctx := context.Background()

	// Load configuration
	svcCfg := config.LoadServiceConfig()
	dispatcherCfg := dispatcher.LoadConfigFromEnv()
	limitCfg := ratelimit.LoadConfigFromEnv()
	launcherCfg := docker.LoadConfigFromEnv()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Open the job store
	be, err := openBackend(ctx, svcCfg)
	if err != nil {
		return err
	}
	defer be.close()
	slog.Info("Job store ready", "driver", svcCfg.StoreDriver)

	opts := []job.Option{
		job.WithConfig(job.Config{
			StoreTimeout: svcCfg.StoreTimeout,
			ClaimGrace:   svcCfg.ClaimGrace,
		}),
	}

	// Status-change notifications
	var eventDispatcher *dispatcher.MemoryDispatcher
	if svcCfg.NotifyURL != "" {
		eventDispatcher = dispatcher.NewMemory(dispatcherCfg, metrics)
		opts = append(opts, job.WithNotifier(job.NewEventNotifier(eventDispatcher, svcCfg.NotifyURL, "docjobs", svcCfg.NotifySigningKey)))
		slog.Info("Status notifications enabled", "destination", svcCfg.NotifyURL, "signed", svcCfg.NotifySigningKey != "")
	}

	// Worker launcher
	var healthOpts []health.Option
	if launcherCfg.Image != "" {
		launcher, err := docker.New(ctx, launcherCfg)
		if err != nil {
			return err
		}
		defer launcher.Close()
		opts = append(opts, job.WithLauncher(launcher))
		healthOpts = append(healthOpts, health.WithOptional("launcher", launcher))
		slog.Info("Worker launcher enabled", "image", launcherCfg.Image)
	}

	// Create job service
	jobService := job.NewService(be.store, be.catalog, metrics, opts...)

	// Create health checker
	healthChecker := health.NewChecker(jobService, healthOpts...)

	// Rate limiter: shared across instances when redis is available
	var limiter ratelimit.Limiter = ratelimit.NewMemory(limitCfg)
	if be.redis != nil {
		limiter = ratelimit.NewRedis(be.redis, limitCfg)
	}

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		JobService:    jobService,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		RateLimiter:   limiter,
		APIKey:        svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	// Stuck-job reclaimer
	reclaimCtx, stopReclaimer := context.WithCancel(context.Background())
	defer stopReclaimer()
	if svcCfg.ReclaimInterval > 0 {
		go jobService.RunReclaimer(reclaimCtx, svcCfg.ReclaimInterval, svcCfg.ReclaimStaleAfter)
	}

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 2)

	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()
	stopReclaimer()

	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Drain notification dispatcher
	if eventDispatcher != nil {
		slog.Info("Draining notification dispatcher")
		dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dispatcherCancel()
		if err := eventDispatcher.Close(dispatcherCtx); err != nil {
			slog.Warn("Dispatcher shutdown error", "error", err)
		}

		stats := eventDispatcher.Stats()
		slog.Info("Dispatcher stats",
			"delivered", stats.Delivered,
			"failed", stats.Failed,
			"dropped", stats.Dropped,
		)
	}

	// Workers keep running and report to whichever instance serves the
	// callback URL; stuck ones are recovered by the reclaimer.
	slog.Info("Shutdown complete")
	return nil
}

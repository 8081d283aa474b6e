package cli

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

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/dupreaper/internal/api"
	"github.com/kiranshivaraju/dupreaper/internal/api/handler"
	mw "github.com/kiranshivaraju/dupreaper/internal/api/middleware"
	"github.com/kiranshivaraju/dupreaper/internal/artifact"
	"github.com/kiranshivaraju/dupreaper/internal/cache"
	"github.com/kiranshivaraju/dupreaper/internal/config"
	"github.com/kiranshivaraju/dupreaper/internal/service"
	"github.com/kiranshivaraju/dupreaper/internal/store"
)

const (
	shutdownTimeout   = 30 * time.Second
	requestsPerMinute = 60
	writesPerMinute   = 5
)

func newServeCmd() *cobra.Command {
	var migrationsDir string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API for starting and inspecting runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), migrationsDir, debug)
		},
	}
	cmd.Flags().StringVar(&migrationsDir, "migrations", "migrations", "directory of SQL migrations")
	cmd.Flags().BoolVar(&debug, "debug", false, "log at debug level")
	return cmd
}

func serve(parent context.Context, migrationsDir string, debug bool) error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	logger, closeLog := setupLogging(cfg, debug)
	defer closeLog()
	logger.Info("config loaded", "env", cfg.Server.Env, "splunk", cfg.Splunk.URL)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, migrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected")

	// 5. Connect to Splunk
	platform, err := connectPlatform(ctx, cfg.Splunk)
	if err != nil {
		return fmt.Errorf("connect splunk: %w", err)
	}
	logger.Info("splunk connected", "url", cfg.Splunk.URL)

	// 6. Create store and run service
	pgStore := store.NewPostgresStore(pool)

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithStore(pgStore),
		service.WithCache(redisCache),
	}
	if cfg.Artifacts.Enabled {
		opts = append(opts, service.WithExporter(artifact.NewExporter(cfg.Artifacts, logger)))
	}
	runs := service.NewRunService(platform, platform, cfg.Dedup, opts...)

	// 7. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, requestsPerMinute, writesPerMinute),

		HealthHandler: handler.NewHealthHandler(
			handler.Check{Name: "database", Ping: pgStore.Ping},
			handler.Check{Name: "cache", Ping: redisCache.Ping},
			handler.Check{Name: "splunk", Ping: platform.Ready},
		),
		CreateRunHandler: handler.NewCreateRunHandler(runs),
		ListRunsHandler:  handler.NewListRunsHandler(runs),
		GetRunHandler:    handler.NewGetRunHandler(runs),
		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return listenAndShutdown(ctx, srv, runs, logger)
}

// listenAndShutdown serves until ctx is done, then drains connections and
// cancels active runs.
func listenAndShutdown(ctx context.Context, srv *http.Server, runs *service.RunService, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := runs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("waiting for active runs: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

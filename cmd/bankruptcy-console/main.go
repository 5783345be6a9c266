package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"bankruptcy-console/internal/api"
	"bankruptcy-console/internal/backend"
	"bankruptcy-console/internal/config"
	"bankruptcy-console/internal/session"
	"bankruptcy-console/internal/storage"
	"bankruptcy-console/internal/supervisor"
	"bankruptcy-console/internal/ui"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(2)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	logConfig(logger, cfg)

	if err := run(cfg, logger); err != nil {
		logger.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	features := cfg.Features()

	client, err := backend.NewClient(cfg.APIBaseURL, cfg.RequestTimeout)
	if err != nil {
		return fmt.Errorf("create api client: %w", err)
	}

	sessions, err := newSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer sessions.Close()

	store := newActivityStore(cfg, logger)
	if store != nil {
		defer store.Close()
	}

	var metrics *supervisor.Metrics
	if features.Metrics {
		metrics = supervisor.NewMetrics()
	}
	events := supervisor.NewEventBus(256)
	tracker := supervisor.NewTracker(store, metrics, events, logger)
	health := supervisor.NewHealthChecker(client, cfg.HealthCheckPath, cfg.HealthCheckInterval, cfg.HealthCheckTimeout, metrics, logger)

	var apiServer *api.Server
	if features.API {
		apiServer = api.NewServer(store, cfg, health, tracker, events, logger)
	}

	h, err := ui.NewHandler(cfg, client, sessions, store, tracker, metrics, health, apiServer, logger)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting bankruptcy-console", "listen", cfg.ListenAddr, "api", cfg.APIBaseURL)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return health.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Close SSE streams first; Shutdown waits for them otherwise.
		events.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newSessionStore(ctx context.Context, cfg config.Config) (session.Store, error) {
	baseline := backend.Metrics{
		Accuracy:  &cfg.Baseline.Accuracy,
		Precision: &cfg.Baseline.Precision,
		Recall:    &cfg.Baseline.Recall,
		F1:        &cfg.Baseline.F1,
	}

	switch cfg.SessionStore {
	case config.SessionRedis:
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		s, err := session.NewRedisStore(pingCtx, session.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, baseline, cfg.SessionTTL, cfg.InFlightTTL)
		if err != nil {
			return nil, fmt.Errorf("connect redis session store: %w", err)
		}
		return s, nil
	default:
		return session.NewMemoryStore(baseline, cfg.SessionTTL, cfg.InFlightTTL), nil
	}
}

// newActivityStore opens the configured activity log. A sqlite failure
// falls back to memory so the console still starts.
func newActivityStore(cfg config.Config, logger *slog.Logger) storage.Store {
	switch cfg.Storage {
	case config.StorageOff:
		return nil
	case config.StorageSQLite:
		s, err := storage.NewSQLiteStore(cfg.StoragePath, cfg.StorageMaxRows, logger)
		if err == nil {
			return s
		}
		logger.Warn("sqlite activity log unavailable, using memory", "path", cfg.StoragePath, "err", err)
	}
	return storage.NewMemoryStore(cfg.StorageMaxRows)
}

func newLogger(level, format string) *slog.Logger {
	lvl := new(slog.LevelVar)
	switch level {
	case "debug":
		lvl.Set(slog.LevelDebug)
	case "warn", "warning":
		lvl.Set(slog.LevelWarn)
	case "error":
		lvl.Set(slog.LevelError)
	default:
		lvl.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func logConfig(logger *slog.Logger, cfg config.Config) {
	logger.Info("configuration",
		"listen_addr", cfg.ListenAddr,
		"api_base_url", cfg.APIBaseURL,
		"request_timeout", cfg.RequestTimeout,
		"upload_max_bytes", cfg.UploadMaxBytes,
		"upload_allowed_types", strings.Join(cfg.UploadAllowedTypes, ","),
		"session_store", string(cfg.SessionStore),
		"session_ttl", cfg.SessionTTL,
		"inflight_ttl", cfg.InFlightTTL,
		"redis_addr", cfg.RedisAddr,
		"storage", string(cfg.Storage),
		"storage_path", cfg.StoragePath,
		"storage_max_rows", cfg.StorageMaxRows,
		"metrics_enabled", cfg.MetricsEnabled,
		"api_enabled", cfg.APIEnabled,
		"health_check_interval", cfg.HealthCheckInterval,
		"health_check_path", cfg.HealthCheckPath,
		"log_level", cfg.LogLevel,
		"log_format", cfg.LogFormat,
	)
}

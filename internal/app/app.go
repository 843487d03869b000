// Package app wires configuration, transport, rate limiting, metrics
// and the HTTP API into a running service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/wablast/wablast/internal/api"
	"github.com/wablast/wablast/internal/config"
	"github.com/wablast/wablast/internal/dispatch"
	"github.com/wablast/wablast/internal/metrics"
	"github.com/wablast/wablast/internal/ratelimit"
	"github.com/wablast/wablast/internal/ultramsg"
)

// App is the main application
type App struct {
	config        *config.Config
	logger        *slog.Logger
	client        *ultramsg.Client
	limiter       *ratelimit.Limiter
	limiterDB     *bolt.DB
	metrics       *metrics.Metrics
	metricsServer *metrics.Server
	apiServer     *api.Server
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := SetupLogger(cfg.Logging)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		config: cfg,
		logger: logger,
	}

	// Provider client: only built when credentials exist. Dry runs
	// work without it; live dispatch fails fast in the API layer.
	if err := cfg.ValidateCredentials(); err == nil {
		a.client = NewClient(cfg)
		logger.Info("provider client configured", "instance", cfg.Provider.InstanceID)
	} else {
		logger.Warn("provider credentials missing, live sending disabled", "reason", err)
	}

	// Rate limiter with bbolt-backed counters.
	if cfg.RateLimit.Enabled {
		db, err := bolt.Open(cfg.RateLimit.StoragePath, 0600, &bolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, fmt.Errorf("open rate limit storage: %w", err)
		}
		limiter, err := ratelimit.NewLimiter(db, &ratelimit.Config{
			Instance:         cfg.RateLimit.Instance,
			DefaultRecipient: cfg.RateLimit.DefaultRecipient,
			FlushInterval:    cfg.RateLimit.FlushInterval,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create rate limiter: %w", err)
		}
		a.limiterDB = db
		a.limiter = limiter
		logger.Info("rate limiting enabled", "storage", cfg.RateLimit.StoragePath)
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
		a.metricsServer = metrics.NewServer(a.metrics, cfg.Metrics.ListenAddr, cfg.Metrics.Path, logger)
	}

	var transport dispatch.Transport
	if a.client != nil {
		transport = a.client
	}
	var limiter dispatch.Limiter
	if a.limiter != nil {
		limiter = a.limiter
	}

	a.apiServer = api.NewServer(cfg, transport, limiter, a.metrics, logger)

	return a, nil
}

// NewClient builds the provider client from configuration.
func NewClient(cfg *config.Config) *ultramsg.Client {
	return ultramsg.NewClient(
		cfg.Provider.InstanceID,
		cfg.Provider.APIToken,
		ultramsg.WithBaseURL(cfg.Provider.BaseURL),
		ultramsg.WithHTTPClient(&http.Client{Timeout: cfg.Provider.Timeout}),
	)
}

// NewEngine builds a one-shot dispatch engine from configuration
// (used by the CLI send command).
func (a *App) NewEngine(dryRun bool, onResult func(dispatch.Result)) *dispatch.Engine {
	pacer := ratelimit.NewPacer(
		a.config.Dispatch.DelayBetweenMessages,
		a.config.Dispatch.DelayBetweenBatches,
	)

	var transport dispatch.Transport
	if a.client != nil {
		transport = a.client
	}
	var limiter dispatch.Limiter
	if a.limiter != nil {
		limiter = a.limiter
	}
	var recorder dispatch.Recorder
	if a.metrics != nil {
		recorder = a.metrics
	}

	return dispatch.New(transport, pacer, limiter, recorder, a.logger, dispatch.Options{
		BatchSize:   a.config.Dispatch.BatchSize,
		Concurrency: a.config.Dispatch.Concurrency,
		DryRun:      dryRun,
		OnResult:    onResult,
	})
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	if a.metricsServer != nil {
		a.metricsServer.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case sig := <-sigCh:
		a.logger.Info("received signal, shutting down", "signal", sig)
	}

	return a.Shutdown()
}

// Shutdown stops all components gracefully
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(ctx); err != nil {
		a.logger.Error("api shutdown failed", "error", err)
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Error("metrics shutdown failed", "error", err)
		}
	}
	if a.limiter != nil {
		if err := a.limiter.Stop(); err != nil {
			a.logger.Error("rate limiter stop failed", "error", err)
		}
	}
	if a.limiterDB != nil {
		if err := a.limiterDB.Close(); err != nil {
			a.logger.Error("rate limit storage close failed", "error", err)
		}
	}

	a.logger.Info("shutdown complete")
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/aigov/internal/config"
	"github.com/kailas-cloud/aigov/internal/db"
	"github.com/kailas-cloud/aigov/internal/db/memory"
	dbRedis "github.com/kailas-cloud/aigov/internal/db/redis"
	"github.com/kailas-cloud/aigov/internal/db/sqlkv"
	domquota "github.com/kailas-cloud/aigov/internal/domain/quota"
	logpkg "github.com/kailas-cloud/aigov/internal/logger"
	"github.com/kailas-cloud/aigov/internal/metrics"
	quotarepo "github.com/kailas-cloud/aigov/internal/repository/quota"
	usagerepo "github.com/kailas-cloud/aigov/internal/repository/usage"
	chiTransport "github.com/kailas-cloud/aigov/internal/transport/chi"
	"github.com/kailas-cloud/aigov/internal/transport/httpstream"
	openaiGen "github.com/kailas-cloud/aigov/internal/transport/openai"
	featureuc "github.com/kailas-cloud/aigov/internal/usecase/feature"
	healthuc "github.com/kailas-cloud/aigov/internal/usecase/health"
	quotauc "github.com/kailas-cloud/aigov/internal/usecase/quota"
	streamuc "github.com/kailas-cloud/aigov/internal/usecase/stream"
	usageuc "github.com/kailas-cloud/aigov/internal/usecase/usage"
	"github.com/kailas-cloud/aigov/internal/version"
)

// upstream is a streaming transport that can also report its health.
type upstream interface {
	streamuc.Transport
	healthuc.UpstreamChecker
}

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting aigov API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("upstream", cfg.Upstream.Kind),
	)

	ctx := context.Background()

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	// Wait for database to be ready
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register governor metrics explicitly (no init())
	metrics.RegisterGovernorMetrics()

	governor := quotauc.New(
		quotarepo.New(store, cfg.Storage.KeyPrefix),
		domquota.NewLimits(cfg.Quota.DefaultLimit, cfg.Quota.Limits),
	).WithLogger(logger)

	retention := time.Duration(cfg.Storage.Retention()) * 24 * time.Hour
	usageSvc := usageuc.New(usagerepo.New(store, cfg.Storage.KeyPrefix, retention)).WithLogger(logger)

	up := buildUpstream(cfg.Upstream, logger)
	consumer := streamuc.New(up).
		WithIdleTimeout(time.Duration(cfg.Upstream.IdleTimeoutSec) * time.Second).
		WithMaxErrorBody(int64(cfg.Upstream.MaxErrorBodyKB) << 10).
		WithLogger(logger)

	featureSvc := featureuc.New(governor, consumer, usageSvc)
	healthSvc := healthuc.New(store, up)

	server := chiTransport.NewServer(featureSvc, usageSvc, healthSvc, logger)
	r := chiTransport.NewRouter(server, logger, cfg.Auth.APIKeys, metrics.Middleware())
	if len(cfg.Auth.APIKeys) == 0 {
		logger.Warn("API authentication disabled: no api_keys configured")
	}

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// openStore creates the ledger store for the configured driver.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (db.Store, error) {
	switch cfg.Driver {
	case config.DriverRedis:
		return dbRedis.NewStore(dbRedis.Config{ //nolint:wrapcheck // logged by the caller
			Addrs:    cfg.Addrs,
			Password: cfg.Password,
		})
	case config.DriverSQLite:
		return sqlkv.Open(ctx, sqlkv.SQLite, cfg.DSN) //nolint:wrapcheck // logged by the caller
	case config.DriverPostgres:
		return sqlkv.Open(ctx, sqlkv.Postgres, cfg.DSN) //nolint:wrapcheck // logged by the caller
	case config.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// buildUpstream picks the generation backend.
func buildUpstream(cfg config.UpstreamConfig, logger *zap.Logger) upstream {
	if cfg.Kind == config.UpstreamOpenAI {
		return openaiGen.NewGenerator(&openaiGen.Config{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
			Logger:       logger,
		})
	}
	return httpstream.New(httpstream.Config{
		BaseURL:      cfg.BaseURL,
		Path:         cfg.Path,
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
	})
}

package aigov

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/aigov/internal/db"
	"github.com/kailas-cloud/aigov/internal/db/memory"
	dbRedis "github.com/kailas-cloud/aigov/internal/db/redis"
	"github.com/kailas-cloud/aigov/internal/db/sqlkv"
	domquota "github.com/kailas-cloud/aigov/internal/domain/quota"
	"github.com/kailas-cloud/aigov/internal/domain/scope"
	domusage "github.com/kailas-cloud/aigov/internal/domain/usage"
	quotarepo "github.com/kailas-cloud/aigov/internal/repository/quota"
	usagerepo "github.com/kailas-cloud/aigov/internal/repository/usage"
	"github.com/kailas-cloud/aigov/internal/transport/httpstream"
	openaiGen "github.com/kailas-cloud/aigov/internal/transport/openai"
	featureuc "github.com/kailas-cloud/aigov/internal/usecase/feature"
	healthuc "github.com/kailas-cloud/aigov/internal/usecase/health"
	quotauc "github.com/kailas-cloud/aigov/internal/usecase/quota"
	streamuc "github.com/kailas-cloud/aigov/internal/usecase/stream"
	usageuc "github.com/kailas-cloud/aigov/internal/usecase/usage"
)

const (
	defaultReadinessTimeout = 10 * time.Second
	defaultKeyPrefix        = "aigov:"
)

// Internal interfaces for substitution in tests.
type featureUseCase interface {
	Consume(ctx context.Context, sc scope.Scope, feature string) (domquota.Result, string, error)
	Status(ctx context.Context, sc scope.Scope, feature string) (domquota.Result, error)
	Generate(ctx context.Context, req featureuc.Request, sink featureuc.Sink) (featureuc.Outcome, error)
}

type usageUseCase interface {
	RecordFeatureUsage(ctx context.Context, in usageuc.RecordInput) (domusage.Record, error)
	DailyReport(ctx context.Context, sc scope.Scope, date string) (domusage.Daily, error)
	Events(ctx context.Context, sc scope.Scope, date string) ([]domusage.Record, error)
}

type healthUseCase interface {
	Check(ctx context.Context) healthuc.Report
}

type upstream interface {
	streamuc.Transport
	healthuc.UpstreamChecker
}

// Client is the aigov SDK entry point.
type Client struct {
	store       db.Store
	featureSvc  featureUseCase
	usageSvc    usageUseCase
	healthSvc   healthUseCase
	hasUpstream bool
	obs         *observer
}

// New creates a Client and connects to the database.
// The provided context is used for the initial readiness check.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{keyPrefix: defaultKeyPrefix}
	for _, o := range opts {
		o.apply(cfg)
	}

	if cfg.driver == "" {
		return nil, errors.New("aigov: storage required (use WithRedis, WithSQLite, WithPostgres or WithMemory)")
	}

	store, err := createStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("aigov: database not ready: %w", err)
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		store.Close()
		return nil, err
	}
	return wireClient(store, cfg, obs), nil
}

func createStore(ctx context.Context, cfg *clientConfig) (db.Store, error) {
	switch cfg.driver {
	case "redis":
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.addrs,
			Password: cfg.password,
		})
		if err != nil {
			return nil, fmt.Errorf("aigov: create redis store: %w", err)
		}
		return s, nil
	case "sqlite", "postgres":
		d := sqlkv.SQLite
		if cfg.driver == "postgres" {
			d = sqlkv.Postgres
		}
		s, err := sqlkv.Open(ctx, d, cfg.dsn)
		if err != nil {
			return nil, fmt.Errorf("aigov: create %s store: %w", cfg.driver, err)
		}
		return s, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("aigov: unknown driver %q", cfg.driver)
	}
}

func buildUpstream(cfg *clientConfig) upstream {
	switch cfg.upstream {
	case upstreamHTTP:
		return httpstream.New(httpstream.Config{
			BaseURL:      cfg.baseURL,
			APIKey:       cfg.apiKey,
			Model:        cfg.model,
			SystemPrompt: cfg.systemPrompt,
		})
	case upstreamOpenAI:
		return openaiGen.NewGenerator(&openaiGen.Config{
			APIKey:       cfg.apiKey,
			BaseURL:      cfg.baseURL,
			Model:        cfg.model,
			SystemPrompt: cfg.systemPrompt,
		})
	default:
		return nil
	}
}

func wireClient(store db.Store, cfg *clientConfig, obs *observer) *Client {
	governor := quotauc.New(
		quotarepo.New(store, cfg.keyPrefix),
		domquota.NewLimits(cfg.defaultLimit, cfg.limits),
	)
	usageSvc := usageuc.New(usagerepo.New(store, cfg.keyPrefix, cfg.retention))

	// Health takes a nil interface, not a typed nil, when no upstream is configured.
	var checker healthuc.UpstreamChecker
	var consumer *streamuc.Consumer
	up := buildUpstream(cfg)
	if up != nil {
		checker = up
		consumer = streamuc.New(up)
		if cfg.idleTimeout > 0 {
			consumer = consumer.WithIdleTimeout(cfg.idleTimeout)
		}
	}

	return &Client{
		store:       store,
		featureSvc:  featureuc.New(governor, consumer, usageSvc),
		usageSvc:    usageSvc,
		healthSvc:   healthuc.New(store, checker),
		hasUpstream: up != nil,
		obs:         obs,
	}
}

// Close releases all resources.
func (c *Client) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks database connectivity.
func (c *Client) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("ping", start, err) }()

	if err = c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

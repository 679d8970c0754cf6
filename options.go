package aigov

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type upstreamKind string

const (
	upstreamNone   upstreamKind = ""
	upstreamHTTP   upstreamKind = "http"
	upstreamOpenAI upstreamKind = "openai"
)

type clientConfig struct {
	driver   string // "redis", "sqlite", "postgres" or "memory"
	addrs    []string
	password string
	dsn      string

	keyPrefix string
	retention time.Duration

	defaultLimit int
	limits       map[string]int

	upstream     upstreamKind
	baseURL      string
	apiKey       string
	model        string
	systemPrompt string
	idleTimeout  time.Duration

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

// WithRedis stores quotas and usage in Redis or Valkey.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithSQLite stores quotas and usage in an embedded SQLite file.
func WithSQLite(dsn string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "sqlite"
		c.dsn = dsn
	})
}

// WithPostgres stores quotas and usage in PostgreSQL.
func WithPostgres(dsn string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "postgres"
		c.dsn = dsn
	})
}

// WithMemory keeps quotas and usage in process memory. State is lost on Close.
func WithMemory() Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "memory"
	})
}

// WithKeyPrefix namespaces every storage key. Default: "aigov:".
func WithKeyPrefix(prefix string) Option {
	return optionFunc(func(c *clientConfig) {
		c.keyPrefix = prefix
	})
}

// WithRetention bounds how long usage events are kept. Zero keeps them forever (default).
func WithRetention(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.retention = d
	})
}

// WithLimits sets admissions per 24h window: def for every feature, perFeature overrides.
// Default: 5 for every feature.
func WithLimits(def int, perFeature map[string]int) Option {
	return optionFunc(func(c *clientConfig) {
		c.defaultLimit = def
		c.limits = perFeature
	})
}

// WithHTTPUpstream streams generation from a server speaking the frame protocol.
func WithHTTPUpstream(baseURL, apiKey string) Option {
	return optionFunc(func(c *clientConfig) {
		c.upstream = upstreamHTTP
		c.baseURL = baseURL
		c.apiKey = apiKey
	})
}

// WithOpenAIUpstream streams generation from an OpenAI-compatible chat API.
// An empty baseURL uses the public endpoint.
func WithOpenAIUpstream(apiKey, baseURL, model string) Option {
	return optionFunc(func(c *clientConfig) {
		c.upstream = upstreamOpenAI
		c.apiKey = apiKey
		c.baseURL = baseURL
		c.model = model
	})
}

// WithSystemPrompt sets the instruction sent ahead of every prompt.
func WithSystemPrompt(prompt string) Option {
	return optionFunc(func(c *clientConfig) {
		c.systemPrompt = prompt
	})
}

// WithIdleTimeout aborts a stream that sends no bytes for d. Default: 60s.
func WithIdleTimeout(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.idleTimeout = d
	})
}

// WithLogger enables structured logging for SDK operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}

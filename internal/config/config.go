package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Supported upstream kinds.
const (
	UpstreamHTTP   = "http"
	UpstreamOpenAI = "openai"
)

// Config holds the aigov API configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Quota    QuotaConfig    `yaml:"quota"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, sqlite, postgres, memory (default: redis)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	DSN              string   `yaml:"dsn"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
	// RetentionDays bounds how long usage events are kept. 0 keeps them forever.
	RetentionDays *int `yaml:"usage_retention_days"`
}

// QuotaConfig holds per-feature admission limits over the rolling 24h window.
type QuotaConfig struct {
	DefaultLimit int            `yaml:"default_limit"`
	Limits       map[string]int `yaml:"limits"`
}

// UpstreamConfig holds the streaming generation backend settings.
type UpstreamConfig struct {
	Kind           string `yaml:"kind"` // http, openai (default: http)
	BaseURL        string `yaml:"base_url"`
	Path           string `yaml:"path"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	SystemPrompt   string `yaml:"system_prompt"`
	IdleTimeoutSec int    `yaml:"idle_timeout_sec"`
	MaxErrorBodyKB int    `yaml:"max_error_body_kb"`
}

// Retention returns the usage retention in days.
func (s StorageConfig) Retention() int {
	if s.RetentionDays == nil {
		return 0
	}
	return *s.RetentionDays
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	loadDotEnv()

	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverRedis
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "aigov:"
	}
	if c.Storage.RetentionDays == nil {
		days := 90
		c.Storage.RetentionDays = &days
	}
	if c.Quota.DefaultLimit == 0 {
		c.Quota.DefaultLimit = 5
	}
	if c.Upstream.Kind == "" {
		c.Upstream.Kind = UpstreamHTTP
	}
	if c.Upstream.Path == "" {
		c.Upstream.Path = "/v1/generate"
	}
	if c.Upstream.IdleTimeoutSec <= 0 {
		c.Upstream.IdleTimeoutSec = 60
	}
	if c.Upstream.MaxErrorBodyKB <= 0 {
		c.Upstream.MaxErrorBodyKB = 64
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.Database.Driver {
	case DriverRedis:
		if len(c.Database.Addrs) == 0 {
			return errors.New("database.addrs is required for redis")
		}
	case DriverSQLite, DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for %s", c.Database.Driver)
		}
	case DriverMemory:
		// ok
	default:
		return fmt.Errorf("database.driver must be one of redis, sqlite, postgres, memory, got %q", c.Database.Driver)
	}

	if c.Storage.Retention() < 0 {
		return fmt.Errorf("storage.usage_retention_days must not be negative, got %d", c.Storage.Retention())
	}

	if c.Quota.DefaultLimit <= 0 {
		return fmt.Errorf("quota.default_limit must be positive, got %d", c.Quota.DefaultLimit)
	}
	for feature, limit := range c.Quota.Limits {
		if limit <= 0 {
			return fmt.Errorf("quota.limits.%s must be positive, got %d", feature, limit)
		}
	}

	switch c.Upstream.Kind {
	case UpstreamHTTP:
		if c.Upstream.BaseURL == "" {
			return errors.New("upstream.base_url is required for http")
		}
	case UpstreamOpenAI:
		// base_url is optional, the client defaults to the public endpoint
	default:
		return fmt.Errorf("upstream.kind must be \"http\" or \"openai\", got %q", c.Upstream.Kind)
	}
	return nil
}

// loadDotEnv loads the first .env found. Variables already in the environment win.
func loadDotEnv() {
	for _, path := range []string{".env", filepath.Join(projectRoot(), ".env")} {
		if fileExists(path) {
			_ = godotenv.Load(path)
			return
		}
	}
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	if path := filepath.Join(projectRoot(), "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func projectRoot() string {
	_, b, _, _ := runtime.Caller(0)
	return filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

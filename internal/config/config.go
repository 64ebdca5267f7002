// Package config loads application configuration from defaults, an optional YAML file
// and TRIALMATCH_* environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/clinical-trial-matcher/internal/database"
	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix for all settings
const EnvPrefix = "TRIALMATCH"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v          *viper.Viper
	configFile string
	config     *domain.Config
}

// Option customizes a Manager
type Option func(*Manager)

// WithConfigFile reads configuration from an explicit file instead of the search paths
func WithConfigFile(path string) Option {
	return func(m *Manager) {
		m.configFile = path
	}
}

// NewManager creates a new configuration manager
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/trialmatch/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional; defaults and environment variables are enough
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// DefaultDataDir returns the directory used for local SQLite files
func DefaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".trialmatch"
	}
	return filepath.Join(homeDir, ".trialmatch")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.client_rate", 5.0)
	v.SetDefault("server.client_burst", 10)
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Trial registry defaults
	v.SetDefault("trials.base_url", "https://clinicaltrials.gov/api/v2")
	v.SetDefault("trials.timeout", "30s")
	v.SetDefault("trials.rate_limit", 100)
	v.SetDefault("trials.rate_window", "1m")
	v.SetDefault("trials.retry_count", 3)
	v.SetDefault("trials.page_size", 20)
	v.SetDefault("trials.circuit.failure_threshold", 5)
	v.SetDefault("trials.circuit.recovery_timeout", "60s")
	v.SetDefault("trials.cache_ttl", "1h")

	// Reasoning service defaults
	v.SetDefault("reasoning.base_url", "https://api.cerebras.ai/v1")
	v.SetDefault("reasoning.api_key", "")
	v.SetDefault("reasoning.timeout", "30s")
	v.SetDefault("reasoning.rate_limit", 60)
	v.SetDefault("reasoning.rate_window", "1m")
	v.SetDefault("reasoning.retry_count", 3)
	v.SetDefault("reasoning.circuit.failure_threshold", 5)
	v.SetDefault("reasoning.circuit.recovery_timeout", "60s")
	v.SetDefault("reasoning.cache_ttl", "30m")
	v.SetDefault("reasoning.model", "llama3.1-8b")
	v.SetDefault("reasoning.temperature", 0.1)
	v.SetDefault("reasoning.max_tokens", 2000)
	v.SetDefault("reasoning.min_reasoning_steps", domain.MinReasoningSteps)
	v.SetDefault("reasoning.min_steps_policy", "reject")
	v.SetDefault("reasoning.depth_penalty", 0.5)

	// Retry defaults
	v.SetDefault("retry.initial_backoff", "500ms")
	v.SetDefault("retry.max_backoff", "30s")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.2)

	// Cache defaults
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.redis_enabled", false)
	v.SetDefault("cache.redis_url", "redis://localhost:6379")
	v.SetDefault("cache.key_prefix", "trialmatch:")
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Matching defaults
	v.SetDefault("matching.max_concurrency", 5)
	v.SetDefault("matching.default_timeout", "60s")
	v.SetDefault("matching.max_candidates", 30)
	v.SetDefault("matching.candidate_multiplier", 3)
	v.SetDefault("matching.max_pages", 5)
	v.SetDefault("matching.default_max_results", 3)
	v.SetDefault("matching.min_confidence", 0.7)
	v.SetDefault("matching.eligible_threshold", 0.7)
	v.SetDefault("matching.search_radius_miles", 100)
	v.SetDefault("matching.age_tolerance_years", 5)
	v.SetDefault("matching.statuses", []string{domain.StatusRecruiting, domain.StatusNotYetRecruiting})
	v.SetDefault("matching.score_limit", 0)
	v.SetDefault("matching.prerank", true)

	// Database defaults
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.sqlite_path", filepath.Join(DefaultDataDir(), "trialmatch.db"))
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "trialmatch")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.store_history", false)

	// Subscription defaults
	v.SetDefault("subscription.default_frequency", "weekly")
	v.SetDefault("subscription.default_channel", "email")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "clinical-trial-matcher")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.exporter", "stdout")

	// MCP defaults
	v.SetDefault("mcp.server_name", "clinical-trial-matcher")
	v.SetDefault("mcp.server_version", "1.0.0")
	v.SetDefault("mcp.request_timeout", "90s")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if err := validateUpstream("trials", config.Trials); err != nil {
		return err
	}
	if err := validateUpstream("reasoning", config.Reasoning.UpstreamConfig); err != nil {
		return err
	}
	if config.Reasoning.APIKey == "" && !m.IsDevelopment() {
		return fmt.Errorf("reasoning API key is required outside development")
	}
	if config.Reasoning.MinSteps < 1 {
		return fmt.Errorf("reasoning min_reasoning_steps must be positive")
	}
	switch config.Reasoning.MinStepsPolicy {
	case "reject", "penalize":
	default:
		return fmt.Errorf("invalid min_steps_policy: %s", config.Reasoning.MinStepsPolicy)
	}

	if config.Retry.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be at least 1")
	}
	if config.Retry.Jitter < 0 || config.Retry.Jitter >= 1 {
		return fmt.Errorf("retry jitter must be in [0,1)")
	}

	if config.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max_entries must be positive")
	}
	if config.Cache.RedisEnabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("Redis URL is required when redis is enabled")
	}

	if config.Matching.MaxConcurrency <= 0 {
		return fmt.Errorf("matching max_concurrency must be positive")
	}
	if config.Matching.DefaultTimeout <= 0 {
		return fmt.Errorf("matching default_timeout must be positive")
	}
	if config.Matching.MinConfidence < 0 || config.Matching.MinConfidence > 1 {
		return fmt.Errorf("matching min_confidence must be in [0,1]")
	}
	if config.Matching.ScoreLimit < 0 {
		return fmt.Errorf("matching score_limit must not be negative")
	}

	switch config.Database.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid database driver: %s", config.Database.Driver)
	}
	if config.Database.Driver == "postgres" && config.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

func validateUpstream(name string, cfg domain.UpstreamConfig) error {
	if cfg.BaseURL == "" {
		return fmt.Errorf("%s base URL is required", name)
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return fmt.Errorf("%s base URL is invalid: %w", name, err)
	}
	if cfg.RateLimit <= 0 || cfg.RateWindow <= 0 {
		return fmt.Errorf("%s rate limit must be positive", name)
	}
	if cfg.Circuit.FailureThreshold <= 0 || cfg.Circuit.RecoveryTimeout <= 0 {
		return fmt.Errorf("%s circuit settings must be positive", name)
	}
	if cfg.RetryCount < 0 {
		return fmt.Errorf("%s retry_count must not be negative", name)
	}
	return nil
}

// GetDatabaseConnectionString returns the postgres:// URL for the configured database
func (m *Manager) GetDatabaseConnectionString() string {
	return database.ConfigFrom(m.config.Database).URL()
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}

package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment  string             `mapstructure:"environment"`
	Server       ServerConfig       `mapstructure:"server"`
	Trials       UpstreamConfig     `mapstructure:"trials"`
	Reasoning    ReasoningConfig    `mapstructure:"reasoning"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Matching     MatchingConfig     `mapstructure:"matching"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	MCP          MCPConfig          `mapstructure:"mcp"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// ClientRate and ClientBurst throttle each API client (requests per second)
	ClientRate     float64  `mapstructure:"client_rate"`
	ClientBurst    int      `mapstructure:"client_burst"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// CircuitConfig configures the breaker guarding one upstream
type CircuitConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
}

// UpstreamConfig is the resilience and connection configuration shared by upstreams
type UpstreamConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
	RetryCount int           `mapstructure:"retry_count"`
	PageSize   int           `mapstructure:"page_size"`
	Circuit    CircuitConfig `mapstructure:"circuit"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

// ReasoningConfig extends UpstreamConfig with model and parsing settings
type ReasoningConfig struct {
	UpstreamConfig `mapstructure:",squash"`
	Model          string  `mapstructure:"model"`
	Temperature    float32 `mapstructure:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	// MinSteps is the minimum chain-of-thought length
	MinSteps int `mapstructure:"min_reasoning_steps"`
	// MinStepsPolicy is "reject" or "penalize"
	MinStepsPolicy string  `mapstructure:"min_steps_policy"`
	DepthPenalty   float64 `mapstructure:"depth_penalty"`
}

// RetryConfig configures exponential backoff shared by both gateways
type RetryConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
	Jitter         float64       `mapstructure:"jitter"`
}

// CacheConfig represents response cache configuration
type CacheConfig struct {
	MaxEntries   int           `mapstructure:"max_entries"`
	RedisEnabled bool          `mapstructure:"redis_enabled"`
	RedisURL     string        `mapstructure:"redis_url"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	PoolSize     int           `mapstructure:"pool_size"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
}

// MatchingConfig represents orchestrator configuration
type MatchingConfig struct {
	MaxConcurrency      int           `mapstructure:"max_concurrency"`
	DefaultTimeout      time.Duration `mapstructure:"default_timeout"`
	MaxCandidates       int           `mapstructure:"max_candidates"`
	CandidateMultiplier int           `mapstructure:"candidate_multiplier"`
	MaxPages            int           `mapstructure:"max_pages"`
	DefaultMaxResults   int           `mapstructure:"default_max_results"`
	MinConfidence       float64       `mapstructure:"min_confidence"`
	EligibleThreshold   float64       `mapstructure:"eligible_threshold"`
	SearchRadiusMiles   float64       `mapstructure:"search_radius_miles"`
	AgeToleranceYears   float64       `mapstructure:"age_tolerance_years"`
	Statuses            []string      `mapstructure:"statuses"`

	// Prerank orders candidates by hybrid keyword relevance before scoring.
	// ScoreLimit caps how many of them are scored; zero scores all.
	Prerank    bool `mapstructure:"prerank"`
	ScoreLimit int  `mapstructure:"score_limit"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	// Driver is "memory", "sqlite" or "postgres"
	Driver          string        `mapstructure:"driver"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	StoreHistory    bool          `mapstructure:"store_history"`
}

// SubscriptionConfig represents subscription defaults
type SubscriptionConfig struct {
	DefaultFrequency string `mapstructure:"default_frequency"`
	DefaultChannel   string `mapstructure:"default_channel"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// Output is "stdout", "stderr" or a file path
	Output string `mapstructure:"output"`
}

// TracingConfig represents OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	// Exporter is "stdout" or "none"
	Exporter string `mapstructure:"exporter"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName     string        `mapstructure:"server_name"`
	ServerVersion  string        `mapstructure:"server_version"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

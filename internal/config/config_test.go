package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	m, err := NewManager()
	require.NoError(t, err)
	cfg := m.GetConfig()

	assert.Equal(t, "https://clinicaltrials.gov/api/v2", cfg.Trials.BaseURL)
	assert.Equal(t, 100, cfg.Trials.RateLimit)
	assert.Equal(t, time.Minute, cfg.Trials.RateWindow)
	assert.Equal(t, time.Hour, cfg.Trials.CacheTTL)
	assert.Equal(t, 5, cfg.Trials.Circuit.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Trials.Circuit.RecoveryTimeout)

	assert.Equal(t, 60, cfg.Reasoning.RateLimit)
	assert.Equal(t, 30*time.Minute, cfg.Reasoning.CacheTTL)
	assert.Equal(t, "llama3.1-8b", cfg.Reasoning.Model)
	assert.InDelta(t, 0.1, cfg.Reasoning.Temperature, 0.0001)
	assert.Equal(t, 3, cfg.Reasoning.MinSteps)
	assert.Equal(t, "reject", cfg.Reasoning.MinStepsPolicy)

	assert.Equal(t, 5, cfg.Matching.MaxConcurrency)
	assert.Equal(t, 60*time.Second, cfg.Matching.DefaultTimeout)
	assert.Equal(t, 3, cfg.Matching.DefaultMaxResults)
	assert.InDelta(t, 0.7, cfg.Matching.MinConfidence, 0.0001)
	assert.True(t, cfg.Matching.Prerank)
	assert.Zero(t, cfg.Matching.ScoreLimit)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.Equal(t, "memory", cfg.Database.Driver)

	assert.NoError(t, m.Validate())
	assert.True(t, m.IsDevelopment())
	assert.False(t, m.IsProduction())
}

func TestNewManager_EnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TRIALMATCH_REASONING_API_KEY", "test-key")
	t.Setenv("TRIALMATCH_TRIALS_RATE_LIMIT", "50")
	t.Setenv("TRIALMATCH_MATCHING_MAX_CONCURRENCY", "8")
	t.Setenv("TRIALMATCH_LOGGING_LEVEL", "debug")

	m, err := NewManager()
	require.NoError(t, err)
	cfg := m.GetConfig()

	assert.Equal(t, "test-key", cfg.Reasoning.APIKey)
	assert.Equal(t, 50, cfg.Trials.RateLimit)
	assert.Equal(t, 8, cfg.Matching.MaxConcurrency)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestNewManager_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trialmatch.yaml")
	content := `
environment: production
reasoning:
  api_key: file-key
  model: llama-3.3-70b
  min_steps_policy: penalize
matching:
  max_candidates: 12
database:
  driver: sqlite
  sqlite_path: /tmp/trialmatch-test.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	m, err := NewManager(WithConfigFile(path))
	require.NoError(t, err)
	cfg := m.GetConfig()

	assert.Equal(t, "file-key", cfg.Reasoning.APIKey)
	assert.Equal(t, "llama-3.3-70b", cfg.Reasoning.Model)
	assert.Equal(t, "penalize", cfg.Reasoning.MinStepsPolicy)
	assert.Equal(t, 12, cfg.Matching.MaxCandidates)
	assert.Equal(t, "sqlite", m.GetDatabaseConfig().Driver)
	assert.True(t, m.IsProduction())
	assert.NoError(t, m.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *Manager)
		wantErr string
	}{
		{"bad port", func(m *Manager) { m.config.Server.Port = 0 }, "invalid server port"},
		{"missing trials url", func(m *Manager) { m.config.Trials.BaseURL = "" }, "trials base URL is required"},
		{"zero rate limit", func(m *Manager) { m.config.Reasoning.RateLimit = 0 }, "reasoning rate limit"},
		{"production without key", func(m *Manager) { m.config.Environment = "production" }, "API key is required"},
		{"bad policy", func(m *Manager) { m.config.Reasoning.MinStepsPolicy = "ignore" }, "min_steps_policy"},
		{"jitter too large", func(m *Manager) { m.config.Retry.Jitter = 1.5 }, "jitter"},
		{"negative score limit", func(m *Manager) { m.config.Matching.ScoreLimit = -1 }, "score_limit"},
		{"bad driver", func(m *Manager) { m.config.Database.Driver = "mongo" }, "database driver"},
		{"bad log level", func(m *Manager) { m.config.Logging.Level = "verbose" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			m, err := NewManager()
			require.NoError(t, err)
			tt.mutate(m)

			err = m.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConnectionStrings(t *testing.T) {
	t.Chdir(t.TempDir())
	m, err := NewManager()
	require.NoError(t, err)

	assert.Equal(t, "postgres://postgres:@localhost:5432/trialmatch?sslmode=disable",
		m.GetDatabaseConnectionString())
	assert.Equal(t, "redis://localhost:6379", m.GetRedisConnectionString())
}

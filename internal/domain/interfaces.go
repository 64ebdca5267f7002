package domain

import (
	"context"
)

// TrialSearcher searches the trial registry
type TrialSearcher interface {
	Search(ctx context.Context, filters SearchFilters, pageToken string) (*TrialPage, error)
	GetTrial(ctx context.Context, nctID string) (*TrialCandidate, error)
	// SearchAll follows continuation tokens until target candidates or maxPages pages
	SearchAll(ctx context.Context, filters SearchFilters, target, maxPages int) (*SearchResult, error)
}

// TrialAnalyzer produces a structured reasoning result for one patient and trial
type TrialAnalyzer interface {
	Analyze(ctx context.Context, patient *PatientProfile, trial *TrialCandidate) (*ReasoningResult, error)
}

// ResultSink receives match outcomes after a request completes
type ResultSink interface {
	Store(ctx context.Context, patientFingerprint string, outcome *MatchOutcome) error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}

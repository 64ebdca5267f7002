package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/clinical-trial-matcher/internal/database"
	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// generateTestPassword creates a random password for the throwaway database
func generateTestPassword() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "test_fallback_password_123"
	}
	return "test_" + hex.EncodeToString(bytes)
}

func setupTestDB(t *testing.T) *database.DB {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	password := generateTestPassword()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword(password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := database.Config{
		Host:        host,
		Port:        port.Int(),
		Database:    "testdb",
		Username:    "testuser",
		Password:    password,
		MaxConns:    5,
		MinConns:    1,
		MaxConnLife: time.Hour,
		MaxConnIdle: time.Minute,
		SSLMode:     "disable",
	}
	logger := testLogger()

	db, err := database.NewConnection(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	runner, err := database.NewMigrationRunner(cfg.URL(), "../../migrations", logger)
	require.NoError(t, err)
	t.Cleanup(func() { runner.Close() })
	require.NoError(t, runner.Up(ctx))

	return db
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func sampleOutcome(requestID string) *domain.MatchOutcome {
	outcome := &domain.MatchOutcome{
		Results: []domain.MatchResult{
			{
				TrialID:         "NCT01000001",
				TrialTitle:      "Metformin Add-on Study",
				OverallScore:    0.91,
				ConfidenceScore: 0.88,
				StructuralFit:   1,
				Status:          domain.MatchEligible,
				Reasoning:       domain.ReasoningResult{Verdict: domain.VerdictEligible},
			},
			{
				TrialID:         "NCT01000002",
				TrialTitle:      "Lifestyle Intervention",
				OverallScore:    0.72,
				ConfidenceScore: 0.7,
				StructuralFit:   0.75,
				Status:          domain.MatchEligible,
				Reasoning:       domain.ReasoningResult{Verdict: domain.VerdictPossiblyEligible},
			},
		},
		Metadata: domain.MatchMetadata{
			RequestID:         requestID,
			State:             domain.StateDone,
			CandidatesFetched: 9,
			CandidatesScored:  7,
			Returned:          2,
			Duration:          1500 * time.Millisecond,
		},
	}
	outcome.Metadata.Exclude("NCT01000009", domain.ExcludedReasoningParse, domain.KindReasoningParse)
	return outcome
}

const fingerprint = "5f2b7c0e4a9d8b1c3e6f0a2d4c8b9e1f7a3d5c2b0e4f6a8c1d3b5e7f9a0c2e4d"

func TestMatchHistoryRepository_StoreAndList(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMatchHistoryRepository(db, testLogger())
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, fingerprint, sampleOutcome("req-1")))

	records, err := repo.ListByRequest(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].Rank)
	assert.Equal(t, "NCT01000001", records[0].TrialID)
	assert.Equal(t, domain.VerdictPossiblyEligible, records[1].Verdict)

	summary, err := repo.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, fingerprint, summary.PatientFingerprint)
	assert.Equal(t, domain.StateDone, summary.State)
	assert.Equal(t, 1, summary.ExclusionCounts[domain.ExcludedReasoningParse])
	assert.Equal(t, 1500*time.Millisecond, summary.Duration)

	ids, err := repo.ListByFingerprint(ctx, fingerprint, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"req-1"}, ids)
}

func TestMatchHistoryRepository_StoreReplaces(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMatchHistoryRepository(db, testLogger())
	ctx := context.Background()

	outcome := sampleOutcome("req-2")
	require.NoError(t, repo.Store(ctx, fingerprint, outcome))
	outcome.Results = outcome.Results[:1]
	outcome.Metadata.Partial = true
	require.NoError(t, repo.Store(ctx, fingerprint, outcome))

	records, err := repo.ListByRequest(ctx, "req-2")
	require.NoError(t, err)
	assert.Len(t, records, 1)

	summary, err := repo.GetRequest(ctx, "req-2")
	require.NoError(t, err)
	assert.True(t, summary.Partial)
}

func TestMatchHistoryRepository_Missing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMatchHistoryRepository(db, testLogger())

	_, err := repo.GetRequest(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	records, err := repo.ListByRequest(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, records)

	err = repo.Store(context.Background(), fingerprint, &domain.MatchOutcome{})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

// Package repository persists completed match outcomes. Only trial ids, scores and a
// one-way patient fingerprint are stored; no patient data reaches the database.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clinical-trial-matcher/internal/database"
	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
)

// MatchRequestRecord summarizes one stored request
type MatchRequestRecord struct {
	RequestID          string                         `json:"request_id"`
	PatientFingerprint string                         `json:"patient_fingerprint"`
	State              domain.MatchState              `json:"state"`
	Partial            bool                           `json:"partial"`
	PartialReason      string                         `json:"partial_reason,omitempty"`
	CandidatesFetched  int                            `json:"candidates_fetched"`
	CandidatesScored   int                            `json:"candidates_scored"`
	Returned           int                            `json:"returned"`
	ExclusionCounts    map[domain.ExclusionReason]int `json:"exclusion_counts,omitempty"`
	Duration           time.Duration                  `json:"duration_ns"`
	CreatedAt          time.Time                      `json:"created_at"`
}

// MatchRecord is one stored result row
type MatchRecord struct {
	ID              uuid.UUID          `json:"id"`
	RequestID       string             `json:"request_id"`
	Rank            int                `json:"rank"`
	TrialID         string             `json:"trial_id"`
	TrialTitle      string             `json:"trial_title"`
	OverallScore    float64            `json:"overall_score"`
	ConfidenceScore float64            `json:"confidence_score"`
	StructuralFit   float64            `json:"structural_fit"`
	Status          domain.MatchStatus `json:"match_status"`
	Verdict         domain.Verdict     `json:"verdict"`
	CreatedAt       time.Time          `json:"created_at"`
}

// MatchHistoryRepository handles match outcome persistence
type MatchHistoryRepository struct {
	db  *database.DB
	log *logrus.Logger
}

// NewMatchHistoryRepository creates a new match history repository
func NewMatchHistoryRepository(db *database.DB, logger *logrus.Logger) *MatchHistoryRepository {
	return &MatchHistoryRepository{
		db:  db,
		log: logger,
	}
}

// Store writes the request summary and every returned result in one transaction.
// Storing the same request id again replaces the earlier rows.
func (r *MatchHistoryRepository) Store(ctx context.Context, fingerprint string, outcome *domain.MatchOutcome) error {
	meta := outcome.Metadata
	if meta.RequestID == "" {
		return domain.NewValidationError("request_id", "is required")
	}
	exclusions, err := json.Marshal(meta.ExclusionCounts)
	if err != nil {
		return fmt.Errorf("encoding exclusion counts: %w", err)
	}
	if meta.ExclusionCounts == nil {
		exclusions = []byte("{}")
	}

	err = r.db.InTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO match_requests (
				request_id, patient_fingerprint, state, partial, partial_reason,
				candidates_fetched, candidates_scored, returned, exclusion_counts, duration_ms
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (request_id) DO UPDATE SET
				patient_fingerprint = EXCLUDED.patient_fingerprint,
				state = EXCLUDED.state,
				partial = EXCLUDED.partial,
				partial_reason = EXCLUDED.partial_reason,
				candidates_fetched = EXCLUDED.candidates_fetched,
				candidates_scored = EXCLUDED.candidates_scored,
				returned = EXCLUDED.returned,
				exclusion_counts = EXCLUDED.exclusion_counts,
				duration_ms = EXCLUDED.duration_ms`,
			meta.RequestID,
			fingerprint,
			string(meta.State),
			meta.Partial,
			meta.PartialReason,
			meta.CandidatesFetched,
			meta.CandidatesScored,
			meta.Returned,
			exclusions,
			meta.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("inserting match request: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM match_results WHERE request_id = $1`, meta.RequestID); err != nil {
			return fmt.Errorf("clearing match results: %w", err)
		}

		batch := &pgx.Batch{}
		for i, res := range outcome.Results {
			batch.Queue(`
				INSERT INTO match_results (
					id, request_id, rank, trial_id, trial_title, overall_score,
					confidence_score, structural_fit, match_status, verdict
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				uuid.New(),
				meta.RequestID,
				i+1,
				res.TrialID,
				res.TrialTitle,
				res.OverallScore,
				res.ConfidenceScore,
				res.StructuralFit,
				string(res.Status),
				string(res.Reasoning.Verdict),
			)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting match results: %w", err)
		}
		return nil
	})
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": meta.RequestID,
			"error":      err,
		}).Error("Failed to store match outcome")
		return err
	}

	r.log.WithFields(logrus.Fields{
		"request_id": meta.RequestID,
		"results":    len(outcome.Results),
	}).Debug("Match outcome stored")
	return nil
}

// GetRequest returns the stored summary of one request
func (r *MatchHistoryRepository) GetRequest(ctx context.Context, requestID string) (*MatchRequestRecord, error) {
	query := `
		SELECT request_id, patient_fingerprint, state, partial, partial_reason,
			   candidates_fetched, candidates_scored, returned, exclusion_counts, duration_ms, created_at
		FROM match_requests
		WHERE request_id = $1`

	var rec MatchRequestRecord
	var state string
	var exclusions []byte
	var durationMS int64
	err := r.db.Pool.QueryRow(ctx, query, requestID).Scan(
		&rec.RequestID,
		&rec.PatientFingerprint,
		&state,
		&rec.Partial,
		&rec.PartialReason,
		&rec.CandidatesFetched,
		&rec.CandidatesScored,
		&rec.Returned,
		&exclusions,
		&durationMS,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("match request %s: %w", requestID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting match request: %w", err)
	}
	if err := json.Unmarshal(exclusions, &rec.ExclusionCounts); err != nil {
		return nil, fmt.Errorf("decoding exclusion counts: %w", err)
	}
	rec.State = domain.MatchState(state)
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	return &rec, nil
}

// ListByRequest returns the stored results of one request in rank order
func (r *MatchHistoryRepository) ListByRequest(ctx context.Context, requestID string) ([]MatchRecord, error) {
	query := `
		SELECT id, request_id, rank, trial_id, trial_title, overall_score,
			   confidence_score, structural_fit, match_status, verdict, created_at
		FROM match_results
		WHERE request_id = $1
		ORDER BY rank ASC`

	rows, err := r.db.Pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("listing match results: %w", err)
	}
	defer rows.Close()

	records := []MatchRecord{}
	for rows.Next() {
		var rec MatchRecord
		var status, verdict string
		err := rows.Scan(
			&rec.ID,
			&rec.RequestID,
			&rec.Rank,
			&rec.TrialID,
			&rec.TrialTitle,
			&rec.OverallScore,
			&rec.ConfidenceScore,
			&rec.StructuralFit,
			&status,
			&verdict,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning match result: %w", err)
		}
		rec.Status = domain.MatchStatus(status)
		rec.Verdict = domain.Verdict(verdict)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListByFingerprint returns the most recent requests for one patient fingerprint
func (r *MatchHistoryRepository) ListByFingerprint(ctx context.Context, fingerprint string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT request_id FROM match_requests
		WHERE patient_fingerprint = $1
		ORDER BY created_at DESC
		LIMIT $2`, fingerprint, limit)
	if err != nil {
		return nil, fmt.Errorf("listing match requests: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collecting match requests: %w", err)
	}
	return ids, nil
}

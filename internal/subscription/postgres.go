package subscription

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clinical-trial-matcher/internal/domain"
	_ "github.com/lib/pq"
)

// PostgresStore implements Repository using PostgreSQL.
// The subscriptions table is created by the migrations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open connection
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL opens a lib/pq connection pool for databaseURL
func NewPostgresStoreFromURL(databaseURL string, cfg domain.DatabaseConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 25))
	db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 5))
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetConnMaxLifetime(lifetime)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func (s *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	if err := prepare(sub, time.Now().UTC()); err != nil {
		return err
	}
	criteria, err := json.Marshal(sub.Criteria)
	if err != nil {
		return fmt.Errorf("encoding criteria: %w", err)
	}

	query := `
		INSERT INTO subscriptions (
			id, email, criteria, frequency, channel, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query,
		sub.ID,
		sub.Email,
		criteria,
		sub.Preferences.Frequency,
		sub.Preferences.Channel,
		string(sub.Status),
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Subscription, error) {
	query := `SELECT ` + selectColumns + ` FROM subscriptions WHERE id = $1`
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subscription %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// Cancel updates and returns the row in one statement. An already cancelled row
// keeps its original cancellation and update times.
func (s *PostgresStore) Cancel(ctx context.Context, id string) (*Subscription, error) {
	query := `
		UPDATE subscriptions SET
			status = $2,
			cancelled_at = COALESCE(cancelled_at, $3),
			updated_at = CASE WHEN status = $2 THEN updated_at ELSE $3 END
		WHERE id = $1
		RETURNING ` + selectColumns

	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, id, string(StatusCancelled), time.Now().UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subscription %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]*Subscription, error) {
	opts = normalizeList(opts)
	query := `
		SELECT ` + selectColumns + `
		FROM subscriptions
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id ASC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.db.QueryContext(ctx, query, string(opts.Status), opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	result := []*Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

// Close closes the underlying connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

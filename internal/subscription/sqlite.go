package subscription

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/clinical-trial-matcher/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens the database at dbPath, creating the file and schema if needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		criteria TEXT NOT NULL,
		frequency TEXT NOT NULL,
		channel TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		cancelled_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_subscriptions_status ON subscriptions(status);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_created_at ON subscriptions(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

const selectColumns = `id, email, criteria, frequency, channel, status, created_at, updated_at, cancelled_at`

// scanner is satisfied by sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(s scanner) (*Subscription, error) {
	sub := &Subscription{}
	var criteria []byte
	var status string
	var cancelledAt sql.NullTime

	err := s.Scan(
		&sub.ID, &sub.Email, &criteria,
		&sub.Preferences.Frequency, &sub.Preferences.Channel, &status,
		&sub.CreatedAt, &sub.UpdatedAt, &cancelledAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(criteria, &sub.Criteria); err != nil {
		return nil, fmt.Errorf("decoding criteria: %w", err)
	}
	sub.Status = Status(status)
	if cancelledAt.Valid {
		t := cancelledAt.Time
		sub.CancelledAt = &t
	}
	return sub, nil
}

func (s *SQLiteStore) Create(ctx context.Context, sub *Subscription) error {
	if err := prepare(sub, time.Now().UTC()); err != nil {
		return err
	}
	criteria, err := json.Marshal(sub.Criteria)
	if err != nil {
		return fmt.Errorf("encoding criteria: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, email, criteria, frequency, channel, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sub.ID,
		sub.Email,
		string(criteria),
		sub.Preferences.Frequency,
		sub.Preferences.Channel,
		string(sub.Status),
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subscription %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

func (s *SQLiteStore) Cancel(ctx context.Context, id string) (*Subscription, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET
			status = ?,
			cancelled_at = ?,
			updated_at = ?
		WHERE id = ? AND status != ?
	`,
		string(StatusCancelled), now, now, id, string(StatusCancelled),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]*Subscription, error) {
	opts = normalizeList(opts)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM subscriptions
		WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC, id ASC
		LIMIT ? OFFSET ?
	`, string(opts.Status), string(opts.Status), opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
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

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

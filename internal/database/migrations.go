package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
)

// MigrationRunner applies the SQL files under migrations/ with golang-migrate
type MigrationRunner struct {
	migrate *migrate.Migrate
	log     *logrus.Logger
}

// NewMigrationRunner opens the migration source directory and the target database
func NewMigrationRunner(databaseURL, migrationsPath string, logger *logrus.Logger) (*MigrationRunner, error) {
	m, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating migration instance: %w", err)
	}
	return &MigrationRunner{migrate: m, log: logger}, nil
}

// Up applies every pending migration
func (mr *MigrationRunner) Up(ctx context.Context) error {
	return mr.run(ctx, "up", mr.migrate.Up)
}

// Down rolls back steps migrations, at least one
func (mr *MigrationRunner) Down(ctx context.Context, steps int) error {
	if steps < 1 {
		steps = 1
	}
	return mr.run(ctx, "down", func() error { return mr.migrate.Steps(-steps) })
}

func (mr *MigrationRunner) run(ctx context.Context, direction string, apply func() error) error {
	log := mr.log.WithField("direction", direction)
	log.Info("Running database migrations")
	defer mr.stopOnCancel(ctx)()

	if err := apply(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("Schema already at target version")
			return nil
		}
		return fmt.Errorf("migrating %s: %w", direction, err)
	}

	if version, dirty, err := mr.migrate.Version(); err == nil {
		log.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("Migrations applied")
	}
	return nil
}

// stopOnCancel asks golang-migrate to stop after the current migration once ctx is done.
// The returned func releases the watcher.
func (mr *MigrationRunner) stopOnCancel(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			select {
			case mr.migrate.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()
	return func() { close(done) }
}

// Close releases the migration source and database handles
func (mr *MigrationRunner) Close() error {
	sourceErr, dbErr := mr.migrate.Close()
	return errors.Join(sourceErr, dbErr)
}

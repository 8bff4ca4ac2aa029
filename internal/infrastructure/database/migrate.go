package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// RunMigrations applies all pending schema migrations from sourcePath
// (a file:// URL or plain directory path).
func RunMigrations(databaseURL, sourcePath string, logger *zap.Logger) error {
	m, err := newMigrator(databaseURL, sourcePath)
	if err != nil {
		return err
	}
	defer closeMigrator(m, logger)

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("schema is up to date")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	logger.Info("migrations applied",
		zap.Uint("version", version),
		zap.Bool("dirty", dirty))
	return nil
}

// RollbackMigration reverts the most recently applied migration.
func RollbackMigration(databaseURL, sourcePath string, logger *zap.Logger) error {
	m, err := newMigrator(databaseURL, sourcePath)
	if err != nil {
		return err
	}
	defer closeMigrator(m, logger)

	if err := m.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no migrations to roll back")
			return nil
		}
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	logger.Info("rolled back one migration")
	return nil
}

// MigrationVersion reports the current schema version and dirty flag.
func MigrationVersion(databaseURL, sourcePath string, logger *zap.Logger) (uint, bool, error) {
	m, err := newMigrator(databaseURL, sourcePath)
	if err != nil {
		return 0, false, err
	}
	defer closeMigrator(m, logger)

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}

func newMigrator(databaseURL, sourcePath string) (*migrate.Migrate, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database for migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(sourceURL(sourcePath), "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

func sourceURL(path string) string {
	if len(path) >= 7 && path[:7] == "file://" {
		return path
	}
	return "file://" + path
}

func closeMigrator(m *migrate.Migrate, logger *zap.Logger) {
	sourceErr, dbErr := m.Close()
	if sourceErr != nil {
		logger.Warn("failed to close migration source", zap.Error(sourceErr))
	}
	if dbErr != nil {
		logger.Warn("failed to close migration database handle", zap.Error(dbErr))
	}
}

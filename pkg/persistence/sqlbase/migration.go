// Package sqlbase provides the base functionality for SQL database persistence.
package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// MigrationManager applies numbered schema migrations, one transaction per version.
type MigrationManager struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations map[int]string
	lockKey    int64
}

type MigrationOption func(*MigrationManager)

// WithAdvisoryLock serializes migrations across processes sharing the database behind a
// PostgreSQL advisory lock, so replicas starting together do not race on the same version.
func WithAdvisoryLock(key int64) MigrationOption {
	return func(m *MigrationManager) {
		m.lockKey = key
	}
}

func NewMigrationManager(logger *slog.Logger, db *sql.DB, migrations map[int]string, opts ...MigrationOption) *MigrationManager {
	m := &MigrationManager{db: db, logger: logger, migrations: migrations}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// LatestVersion returns the highest known migration version.
func (m *MigrationManager) LatestVersion() int {
	latest := 0
	for version := range m.migrations {
		latest = max(latest, version)
	}

	return latest
}

// RunMigrations brings the schema up to LatestVersion.
func (m *MigrationManager) RunMigrations(ctx context.Context) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}

	defer func() {
		if err := conn.Close(); err != nil {
			m.logger.ErrorContext(ctx, "Failed to release migration connection", "error", err)
		}
	}()

	if m.lockKey != 0 {
		if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", m.lockKey); err != nil {
			return fmt.Errorf("failed to take migration lock: %w", err)
		}

		defer func() {
			if _, err := conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", m.lockKey); err != nil {
				m.logger.ErrorContext(ctx, "Failed to release migration lock", "error", err)
			}
		}()
	}

	_, err = conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	current, err := currentVersion(ctx, conn)
	if err != nil {
		return err
	}

	latest := m.LatestVersion()

	m.logger.InfoContext(ctx, "Checking database schema", "version", current, "latest", latest)

	for _, version := range slices.Sorted(maps.Keys(m.migrations)) {
		if version <= current {
			continue
		}

		if err := m.apply(ctx, conn, version); err != nil {
			return err
		}
	}

	return nil
}

// CurrentVersion returns the highest applied migration, 0 on an empty database.
func (m *MigrationManager) CurrentVersion(ctx context.Context) (int, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire connection: %w", err)
	}

	defer func() { _ = conn.Close() }()

	return currentVersion(ctx, conn)
}

func currentVersion(ctx context.Context, conn *sql.Conn) (int, error) {
	var version int

	err := conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query current schema version: %w", err)
	}

	return version, nil
}

func (m *MigrationManager) apply(ctx context.Context, conn *sql.Conn, version int) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", version, err)
	}

	if _, err := tx.ExecContext(ctx, m.migrations[version]); err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("failed to execute migration %d: %w", version, err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("failed to record migration %d: %w", version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", version, err)
	}

	m.logger.InfoContext(ctx, "Applied migration", "version", version)

	return nil
}

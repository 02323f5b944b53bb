package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"octopus/internal/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// downMarker separates the apply and revert halves of a migration file
const downMarker = "-- +down"

// Migration is one numbered schema change, loaded from NNN_description.sql
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string // Empty when the migration cannot be reverted
}

// MigrationStatus reports whether a migration has been applied
type MigrationStatus struct {
	Version     int
	Description string
	Applied     bool
}

// MigrationManager applies embedded migrations and tracks them in
// schema_migrations
type MigrationManager struct {
	db    *sql.DB
	files fs.FS
	log   *slog.Logger
}

// NewMigrationManager creates a manager for db
func NewMigrationManager(db *PostgresDB) *MigrationManager {
	return &MigrationManager{db: db.db, files: migrationFiles, log: logger.Get()}
}

// Migrate applies every pending migration in version order, each in its own
// transaction
func (m *MigrationManager) Migrate(ctx context.Context) error {
	pending, err := m.pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		m.log.Info("No pending migrations")
		return nil
	}

	for _, mig := range pending {
		m.log.Info("Applying migration", "version", mig.Version, "description", mig.Description)
		err := withTx(ctx, m.db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, mig.Up); err != nil {
				return fmt.Errorf("failed to execute migration SQL: %w", err)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`,
				mig.Version, mig.Description)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", mig.Version, err)
		}
	}

	m.log.Info("Migration completed", "applied", len(pending))
	return nil
}

// Status lists every known migration with its applied flag
func (m *MigrationManager) Status(ctx context.Context) ([]MigrationStatus, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	available, err := LoadMigrations(m.files)
	if err != nil {
		return nil, err
	}

	status := make([]MigrationStatus, 0, len(available))
	for _, mig := range available {
		status = append(status, MigrationStatus{
			Version:     mig.Version,
			Description: mig.Description,
			Applied:     applied[mig.Version],
		})
	}
	return status, nil
}

// Rollback reverts the most recently applied migration using its down
// section
func (m *MigrationManager) Rollback(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	last := 0
	for v := range applied {
		if v > last {
			last = v
		}
	}
	if last == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	available, err := LoadMigrations(m.files)
	if err != nil {
		return err
	}
	var mig *Migration
	for i := range available {
		if available[i].Version == last {
			mig = &available[i]
		}
	}
	if mig == nil {
		return fmt.Errorf("migration %d is applied but no longer embedded", last)
	}
	if strings.TrimSpace(mig.Down) == "" {
		return fmt.Errorf("migration %d has no down section", last)
	}

	m.log.Warn("Rolling back migration", "version", last, "description", mig.Description)
	return withTx(ctx, m.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, mig.Down); err != nil {
			return fmt.Errorf("failed to revert migration %d: %w", last, err)
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, last)
		return err
	})
}

func (m *MigrationManager) pending(ctx context.Context) ([]Migration, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	available, err := LoadMigrations(m.files)
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, mig := range available {
		if !applied[mig.Version] {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

func (m *MigrationManager) applied(ctx context.Context) (map[int]bool, error) {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	versions, err := queryIDs(ctx, m.db, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[int(v)] = true
	}
	return applied, nil
}

// LoadMigrations reads migrations/NNN_description.sql files from fsys sorted
// by version. Files not following the pattern are rejected.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		prefix, rest, ok := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
		version, err := strconv.Atoi(prefix)
		if !ok || err != nil || version <= 0 {
			return nil, fmt.Errorf("invalid migration file name %q", name)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %q and %q share version %d", other, name, version)
		}
		seen[version] = name

		data, err := fs.ReadFile(fsys, "migrations/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", name, err)
		}
		up, down, _ := strings.Cut(string(data), downMarker)

		migrations = append(migrations, Migration{
			Version:     version,
			Description: strings.ReplaceAll(rest, "_", " "),
			Up:          up,
			Down:        down,
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

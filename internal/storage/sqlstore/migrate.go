package sqlstore

import (
	"context"
	"crypto/md5"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"agent-triggers/internal/common/logging"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

var migrationVersionRegex = regexp.MustCompile(`^(\d+)_.*\.sql$`)

// Migration represents a single schema migration
type Migration struct {
	Version  string
	Filename string
	Content  string
	Checksum string
}

// MigrationManager applies the embedded schema migrations for one dialect
type MigrationManager struct {
	store  *Store
	logger logging.Logger
	files  fs.FS
}

// NewMigrationManager creates a manager over the embedded migrations
func NewMigrationManager(store *Store, logger logging.Logger) *MigrationManager {
	return &MigrationManager{store: store, logger: logger, files: migrationFiles}
}

// Migrate applies every pending migration in version order
func (s *Store) Migrate(ctx context.Context) error {
	return NewMigrationManager(s, s.logger).RunMigrations(ctx)
}

// RunMigrations runs all pending migrations
func (m *MigrationManager) RunMigrations(ctx context.Context) error {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return fmt.Errorf("failed to load migration files: %w", err)
	}

	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	var pending []Migration
	for _, migration := range migrations {
		checksum, ok := applied[migration.Version]
		if !ok {
			pending = append(pending, migration)
			continue
		}
		if checksum != migration.Checksum {
			m.logger.Warn("Applied migration differs from embedded file",
				logging.Field{Key: "version", Value: migration.Version},
				logging.Field{Key: "filename", Value: migration.Filename},
			)
		}
	}

	if len(pending) == 0 {
		m.logger.Debug("No pending migrations", logging.Field{Key: "dialect", Value: string(m.store.dialect)})
		return nil
	}

	for _, migration := range pending {
		if err := m.applyMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}

	m.logger.Info("Database migrations applied",
		logging.Field{Key: "dialect", Value: string(m.store.dialect)},
		logging.Field{Key: "applied_count", Value: len(pending)},
	)
	return nil
}

func (m *MigrationManager) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.store.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			checksum TEXT
		)`)
	return err
}

func (m *MigrationManager) loadMigrations() ([]Migration, error) {
	suffix := "_" + string(m.store.dialect) + ".sql"

	entries, err := fs.ReadDir(m.files, "migrations")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}

		matches := migrationVersionRegex.FindStringSubmatch(name)
		if len(matches) < 2 {
			m.logger.Warn("Skipping migration with invalid name",
				logging.Field{Key: "filename", Value: name},
				logging.Field{Key: "expected_format", Value: "###_name_<dialect>.sql"},
			)
			continue
		}

		content, err := fs.ReadFile(m.files, "migrations/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", name, err)
		}

		migrations = append(migrations, Migration{
			Version:  matches[1],
			Filename: name,
			Content:  string(content),
			Checksum: fmt.Sprintf("%x", md5.Sum(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		a, _ := strconv.Atoi(migrations[i].Version)
		b, _ := strconv.Atoi(migrations[j].Version)
		return a < b
	})

	return migrations, nil
}

func (m *MigrationManager) appliedMigrations(ctx context.Context) (map[string]string, error) {
	rows, err := m.store.db.QueryContext(ctx, "SELECT version, COALESCE(checksum, '') FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var version, checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, err
		}
		applied[version] = checksum
	}
	return applied, rows.Err()
}

func (m *MigrationManager) applyMigration(ctx context.Context, migration Migration) error {
	m.logger.Info("Applying migration",
		logging.Field{Key: "version", Value: migration.Version},
		logging.Field{Key: "filename", Value: migration.Filename},
	)

	tx, err := m.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, migration.Content); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		m.store.rebind("INSERT INTO schema_migrations (version, filename, applied_at, checksum) VALUES (?, ?, ?, ?)"),
		migration.Version, migration.Filename, m.store.now().UTC(), migration.Checksum,
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

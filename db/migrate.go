package db

import (
	"database/sql"
	"embed"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/canvasledger/cl/errors"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

// Migrate runs all pending migrations.
// If logger is provided, logs migration progress; otherwise operates silently.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	migrationFiles, err := migrationFilenames()
	if err != nil {
		return err
	}

	// Apply each migration
	for _, filename := range migrationFiles {
		version := strings.Split(filename, "_")[0]

		// Check if already applied (schema_migrations created by 000)
		var exists bool
		err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists)
		if err != nil {
			// Table doesn't exist yet - this must be migration 000
			if version != "000" {
				return errors.Newf("schema_migrations table missing, but migration is not 000: %s", filename)
			}
		} else if exists {
			if logger != nil {
				logger.Debugw("Skipping migration (already applied)",
					"migration", filename,
					"version", version,
				)
			}
			continue
		}

		// Read and execute migration
		sqlBytes, err := migrations.ReadFile(filepath.Join("sqlite/migrations", filename))
		if err != nil {
			return errors.Wrapf(err, "read %s", filename)
		}

		if logger != nil {
			logger.Infow("Applying migration",
				"migration", filename,
				"version", version,
			)
		}

		tx, err := db.Begin()
		if err != nil {
			return errors.Wrapf(err, "begin tx for %s", filename)
		}

		if _, err := tx.Exec(string(sqlBytes)); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "execute %s", filename)
		}

		// Record migration (000 creates the table, then records itself)
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "record %s", filename)
		}

		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "commit %s", filename)
		}
	}

	if logger != nil {
		logger.Infow("Migrations complete",
			"total_migrations", len(migrationFiles),
		)
	}

	return nil
}

// migrationFilenames returns embedded migration files in apply order
// (000_create_schema_migrations.sql runs first)
func migrationFilenames() ([]string, error) {
	entries, err := migrations.ReadDir("sqlite/migrations")
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}

	var migrationFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			migrationFiles = append(migrationFiles, entry.Name())
		}
	}
	sort.Strings(migrationFiles)

	return migrationFiles, nil
}

// AppliedMigration records one applied schema migration
type AppliedMigration struct {
	Version   string
	AppliedAt string
}

// MigrationStatus describes applied and pending migrations for a database
type MigrationStatus struct {
	Applied []AppliedMigration
	Pending []string
}

// Status reports which migrations have been applied and which are pending.
// A database that predates the schema_migrations table reports everything
// pending.
func Status(db *sql.DB) (*MigrationStatus, error) {
	migrationFiles, err := migrationFilenames()
	if err != nil {
		return nil, err
	}

	status := &MigrationStatus{}

	applied := map[string]bool{}
	rows, err := db.Query("SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var m AppliedMigration
			if err := rows.Scan(&m.Version, &m.AppliedAt); err != nil {
				return nil, errors.Wrap(err, "scan schema_migrations row")
			}
			applied[m.Version] = true
			status.Applied = append(status.Applied, m)
		}
		if err := rows.Err(); err != nil {
			return nil, errors.Wrap(err, "iterate schema_migrations")
		}
	}

	for _, filename := range migrationFiles {
		version := strings.Split(filename, "_")[0]
		if !applied[version] {
			status.Pending = append(status.Pending, filename)
		}
	}

	return status, nil
}

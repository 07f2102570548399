package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

// upSuffix marks the migration files Migrate applies. Migrations are
// forward-only; there is no down path.
const upSuffix = ".up.sql"

// migrationsFS holds the schema files. Set once at init by the migrations
// package (or by tests).
var migrationsFS fs.FS

// UseMigrations sets the filesystem Migrate reads *.up.sql files from.
// Files must sit at the root of fsys.
func UseMigrations(fsys fs.FS) {
	migrationsFS = fsys
}

// migration is one schema change, read from a file named
// YYYYMMDD_HHMMSS_name.up.sql.
type migration struct {
	version string
	name    string
	file    string
}

// Migrate applies every migration that has not been applied yet, oldest
// first, each in its own transaction together with its schema_migrations
// record.
//
// Returns:
//   - int: Number of migrations applied by this call
//   - error: If a migration file is malformed or a statement fails; the
//     failing migration leaves no trace
func (db *DB) Migrate(ctx context.Context) (int, error) {
	pending, err := db.pendingMigrations(ctx)
	if err != nil {
		return 0, err
	}

	for i, m := range pending {
		if err := db.apply(ctx, m); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

// SchemaVersion returns the version of the newest applied migration, or ""
// for an empty database.
func (db *DB) SchemaVersion(ctx context.Context) (string, error) {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return "", err
	}

	var version string
	err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), '') FROM schema_migrations",
	).Scan(&version)
	if err != nil {
		return "", fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

func (db *DB) ensureMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL
		) STRICT`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}
	return nil
}

func (db *DB) pendingMigrations(ctx context.Context) ([]migration, error) {
	all, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}

	if err := db.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning applied migration: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var pending []migration
	for _, m := range all {
		if !applied[m.version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

func (db *DB) apply(ctx context.Context, m migration) error {
	stmts, err := fs.ReadFile(migrationsFS, m.file)
	if err != nil {
		return fmt.Errorf("reading migration %s: %w", m.file, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting migration %s: %w", m.version, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, string(stmts)); err != nil {
		return fmt.Errorf("applying migration %s_%s: %w", m.version, m.name, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.version, m.name, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording migration %s: %w", m.version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %s: %w", m.version, err)
	}
	return nil
}

// loadMigrations lists the *.up.sql files of migrationsFS, sorted by
// version. Other files are ignored.
func loadMigrations() ([]migration, error) {
	if migrationsFS == nil {
		return nil, nil
	}

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	var out []migration
	seen := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), upSuffix) {
			continue
		}
		version, name, ok := parseMigrationName(e.Name())
		if !ok {
			return nil, fmt.Errorf("malformed migration file name %q", e.Name())
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration version %s used by %q and %q", version, prev, e.Name())
		}
		seen[version] = e.Name()
		out = append(out, migration{version: version, name: name, file: e.Name()})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// parseMigrationName splits "20261019_120000_option_journal.up.sql" into
// version "20261019_120000" and name "option_journal".
func parseMigrationName(file string) (version, name string, ok bool) {
	base, found := strings.CutSuffix(file, upSuffix)
	if !found {
		return "", "", false
	}

	parts := strings.SplitN(base, "_", 3)
	if len(parts) != 3 || !digits(parts[0], 8) || !digits(parts[1], 6) || parts[2] == "" {
		return "", "", false
	}
	return parts[0] + "_" + parts[1], parts[2], true
}

func digits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

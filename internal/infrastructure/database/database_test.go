package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-devserver/internal/infrastructure/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// =============================================================================
// Open
// =============================================================================

func TestOpen_CreatesNestedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "var", "lib", "devserver", "journal.db")

	db, err := Open(Config{Path: path, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("database file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != filePermissions {
		t.Errorf("file mode = %o, want %o", perm, filePermissions)
	}
	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("Open() should reject an empty path")
	}
}

func TestOpen_WALMode(t *testing.T) {
	db := openTestDB(t)

	var mode string
	if err := db.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("reading journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    []string
		notWant string
	}{
		{
			name: "wal",
			cfg:  Config{Path: "/tmp/j.db", WALMode: true, BusyTimeout: 5},
			want: []string{"file:/tmp/j.db?", "_busy_timeout=5000", "_journal_mode=WAL", "_foreign_keys=on"},
		},
		{
			name:    "rollback journal",
			cfg:     Config{Path: "/tmp/j.db", BusyTimeout: 2},
			want:    []string{"_busy_timeout=2000"},
			notWant: "_journal_mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn := tt.cfg.dsn()
			for _, w := range tt.want {
				if !strings.Contains(dsn, w) {
					t.Errorf("dsn %q missing %q", dsn, w)
				}
			}
			if tt.notWant != "" && strings.Contains(dsn, tt.notWant) {
				t.Errorf("dsn %q should not contain %q", dsn, tt.notWant)
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	got := FromConfig(config.DatabaseConfig{
		Enabled:          true,
		Path:             "/data/devserver.db",
		WALMode:          true,
		BusyTimeout:      3,
		JournalRetention: 7,
	})
	want := Config{Path: "/data/devserver.db", WALMode: true, BusyTimeout: 3}
	if got != want {
		t.Errorf("FromConfig() = %+v, want %+v", got, want)
	}
}

// =============================================================================
// Health and Close
// =============================================================================

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)

	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := db.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() should fail on a closed database")
	}
}

func TestClose_NilDB(t *testing.T) {
	db := &DB{}
	if err := db.Close(); err != nil {
		t.Errorf("Close() on an unopened DB = %v, want nil", err)
	}
}

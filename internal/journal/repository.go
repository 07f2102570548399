// Package journal persists applied option mutations in SQLite.
//
// Every successful set-option request is appended to option_changes and
// upserted into option_values. At startup the last values are written back
// into the device description so a restarted server comes up with the
// settings clients last applied.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// List page sizes.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one applied option value.
type Entry struct {
	Stream    string    `json:"stream,omitempty"` // empty for device scope
	Option    string    `json:"option"`
	Value     float64   `json:"value"`
	ChangedAt time.Time `json:"changed_at"`
}

// Filter controls which history entries to return.
type Filter struct {
	Stream string // optional: "" matches device scope only when Option is set
	Option string // optional
	Limit  int    // default 50, max 500
	Offset int    // pagination offset
}

// ListResult contains a page of history entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the journal storage operations.
type Repository interface {
	Record(ctx context.Context, e Entry) error
	LastValues(ctx context.Context) ([]Entry, error)
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository stores the journal of one device in SQLite.
type SQLiteRepository struct {
	db     *sql.DB
	device string
}

// NewSQLiteRepository creates a repository scoped to the device with the
// given topic root. Several devices may share one database file.
func NewSQLiteRepository(db *sql.DB, device string) *SQLiteRepository {
	return &SQLiteRepository{db: db, device: device}
}

// Record appends e to the history and makes it the option's last value.
// ChangedAt defaults to now.
func (r *SQLiteRepository) Record(ctx context.Context, e Entry) error {
	if e.Option == "" {
		return fmt.Errorf("%w: empty option name", ErrInvalidEntry)
	}
	if e.ChangedAt.IsZero() {
		e.ChangedAt = time.Now()
	}
	at := e.ChangedAt.UTC().Format(timeLayout)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting journal transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO option_changes (device, stream, name, value, changed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		r.device, e.Stream, e.Option, e.Value, at,
	); err != nil {
		return fmt.Errorf("inserting option change: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO option_values (device, stream, name, value, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (device, stream, name)
		 DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		r.device, e.Stream, e.Option, e.Value, at,
	); err != nil {
		return fmt.Errorf("upserting option value: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing option change: %w", err)
	}
	return nil
}

// LastValues returns the last applied value of every journaled option,
// ordered by stream then option name.
func (r *SQLiteRepository) LastValues(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT stream, name, value, updated_at FROM option_values
		 WHERE device = ? ORDER BY stream, name`,
		r.device,
	)
	if err != nil {
		return nil, fmt.Errorf("querying option values: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// List returns history entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	conditions := []string{"device = ?"}
	args := []any{r.device}

	if filter.Option != "" {
		conditions = append(conditions, "stream = ?", "name = ?")
		args = append(args, filter.Stream, filter.Option)
	} else if filter.Stream != "" {
		conditions = append(conditions, "stream = ?")
		args = append(args, filter.Stream)
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	countQuery := "SELECT COUNT(*) FROM option_changes " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting option changes: %w", err)
	}

	query := "SELECT stream, name, value, changed_at FROM option_changes " + where + //nolint:gosec // WHERE built from parameterised conditions
		" ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying option changes: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// Prune deletes history entries older than before. Last values are kept.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM option_changes WHERE device = ? AND changed_at < ?",
		r.device, before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning option changes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning option changes: %w", err)
	}
	return n, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&e.Stream, &e.Option, &e.Value, &at); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		t, err := time.Parse(timeLayout, at)
		if err != nil {
			return nil, fmt.Errorf("parsing journal timestamp %q: %w", at, err)
		}
		e.ChangedAt = t
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal entries: %w", err)
	}
	return entries, nil
}

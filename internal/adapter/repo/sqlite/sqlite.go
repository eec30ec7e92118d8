// Package sqlite implements the job and account repositories on an embedded
// SQLite database under data/db/. The schema is reconciled additively on
// startup: missing columns are added, existing columns are never altered or
// dropped, so upgrades stay zero-ops.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const createJobsTable = `CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	prompt TEXT NOT NULL,
	duration INTEGER NOT NULL,
	aspect_ratio TEXT NOT NULL,
	image_path TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'draft',
	percent INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	video_url TEXT NOT NULL DEFAULT '',
	video_id TEXT NOT NULL DEFAULT '',
	generation_id TEXT NOT NULL DEFAULT '',
	local_path TEXT NOT NULL DEFAULT '',
	account_id INTEGER NOT NULL DEFAULT 0,
	task_state TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL DEFAULT ''
)`

const createAccountsTable = `CREATE TABLE IF NOT EXISTS accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	platform TEXT NOT NULL,
	email TEXT NOT NULL,
	password TEXT NOT NULL DEFAULT '',
	access_token TEXT NOT NULL DEFAULT '',
	device_id TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	cookies TEXT NOT NULL DEFAULT '',
	credits_remaining INTEGER NOT NULL DEFAULT 0,
	credits_last_checked TEXT NOT NULL DEFAULT '',
	credits_reset_at TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'live',
	last_used TEXT NOT NULL DEFAULT ''
)`

// knownColumns lists, per table, columns that later releases may have added.
// Reconcile adds any that are missing from a pre-existing database file.
var knownColumns = map[string][]struct{ name, ddl string }{
	"jobs": {
		{"image_path", "image_path TEXT NOT NULL DEFAULT ''"},
		{"error_message", "error_message TEXT NOT NULL DEFAULT ''"},
		{"retry_count", "retry_count INTEGER NOT NULL DEFAULT 0"},
		{"max_retries", "max_retries INTEGER NOT NULL DEFAULT 3"},
		{"video_url", "video_url TEXT NOT NULL DEFAULT ''"},
		{"video_id", "video_id TEXT NOT NULL DEFAULT ''"},
		{"generation_id", "generation_id TEXT NOT NULL DEFAULT ''"},
		{"local_path", "local_path TEXT NOT NULL DEFAULT ''"},
		{"account_id", "account_id INTEGER NOT NULL DEFAULT 0"},
		{"task_state", "task_state TEXT NOT NULL DEFAULT '{}'"},
	},
	"accounts": {
		{"access_token", "access_token TEXT NOT NULL DEFAULT ''"},
		{"device_id", "device_id TEXT NOT NULL DEFAULT ''"},
		{"user_agent", "user_agent TEXT NOT NULL DEFAULT ''"},
		{"cookies", "cookies TEXT NOT NULL DEFAULT ''"},
		{"credits_remaining", "credits_remaining INTEGER NOT NULL DEFAULT 0"},
		{"credits_last_checked", "credits_last_checked TEXT NOT NULL DEFAULT ''"},
		{"credits_reset_at", "credits_reset_at TEXT NOT NULL DEFAULT ''"},
		{"last_used", "last_used TEXT NOT NULL DEFAULT ''"},
	},
}

// Open creates (if needed) and opens the database at path, applies schema
// creation plus additive reconciliation, and returns the handle.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("op=sqlite.open: %w", err)
	}
	// busy_timeout smooths over writer contention between worker goroutines.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("op=sqlite.open: %w", err)
	}
	// A single writer connection sidesteps SQLITE_BUSY under concurrency.
	db.SetMaxOpenConns(1)
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, ddl := range []string{createJobsTable, createAccountsTable} {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("op=sqlite.migrate: %w", err)
		}
	}
	for table, cols := range knownColumns {
		existing, err := tableColumns(ctx, db, table)
		if err != nil {
			return err
		}
		for _, col := range cols {
			if existing[col.name] {
				continue
			}
			if _, err := db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, col.ddl)); err != nil {
				return fmt.Errorf("op=sqlite.migrate table=%s column=%s: %w", table, col.name, err)
			}
		}
	}
	return nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("op=sqlite.table_info: %w", err)
	}
	defer func() { _ = rows.Close() }()
	cols := map[string]bool{}
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &primaryKey); err != nil {
			return nil, fmt.Errorf("op=sqlite.table_info: %w", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// Timestamps are stored as fixed-width RFC3339 UTC strings with nanosecond
// padding, so lexicographic comparison in SQL (stale cutoffs, last_used
// ordering) matches chronological order. RFC3339Nano would trim trailing
// zeros and break that. The zero time maps to "".

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	// Pragmas ride the DSN so every connection in the database/sql pool gets
	// them; a plain PRAGMA exec only configures whichever single connection
	// the pool hands out for that statement.
	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing. The UNIQUE constraint on
// idempotency_key is what enforces one attempt record per logical send; the
// store maps the constraint violation to ErrDuplicateKey.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS message_attempts (
  id              TEXT PRIMARY KEY,
  idempotency_key TEXT NOT NULL UNIQUE,
  sender          TEXT NOT NULL,
  recipients      TEXT NOT NULL,
  cc              TEXT,
  bcc             TEXT,
  subject         TEXT NOT NULL,
  body            TEXT NOT NULL,
  html            INTEGER NOT NULL DEFAULT 0,
  status          TEXT NOT NULL,
  attempt_count   INTEGER NOT NULL DEFAULT 0,
  provider_used   TEXT,
  last_error      TEXT,
  created_at      TEXT NOT NULL,
  updated_at      TEXT NOT NULL,
  completed_at    TEXT
);`,
		`CREATE INDEX IF NOT EXISTS message_attempts_status_idx ON message_attempts(status, created_at);`,
		`CREATE INDEX IF NOT EXISTS message_attempts_sender_created_at_idx ON message_attempts(sender, created_at);`,
		`CREATE INDEX IF NOT EXISTS message_attempts_status_updated_at_idx ON message_attempts(status, updated_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

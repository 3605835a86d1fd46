// Package sqlite provides durable SessionStore and DedupLedger
// implementations backed by SQLite via the pure-Go modernc.org driver.
// A single store survives process restarts, which is what makes the dedup
// guarantee and lease-free recovery actually hold in production.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	thread_id        TEXT NOT NULL,
	status           TEXT NOT NULL,
	created_at       INTEGER NOT NULL,
	last_activity_at INTEGER NOT NULL,
	context_version  INTEGER NOT NULL DEFAULT 0,
	payload          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS thread_index (
	thread_id  TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id)
);

CREATE TABLE IF NOT EXISTS dedup_ledger (
	message_id    TEXT PRIMARY KEY,
	first_seen_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_thread ON sessions(thread_id);
CREATE INDEX IF NOT EXISTS idx_ledger_seen ON dedup_ledger(first_seen_at);
`

// Open opens (creating if needed) the database at path and initializes the
// schema. Use ":memory:" for tests. SQLite supports a single writer, so the
// pool is capped at one connection.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", path,
	))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return db, nil
}

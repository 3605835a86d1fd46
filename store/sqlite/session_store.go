package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/threadline-ai/threadline/core"
)

// SessionStore is a durable core.SessionStore over SQLite. Conversation
// history, facts and tags are stored as a JSON payload next to the indexed
// lifecycle columns; compare-and-set runs inside a transaction guarded by
// the context_version column.
type SessionStore struct {
	db *sql.DB
}

var _ core.SessionStore = (*SessionStore)(nil)

// NewSessionStore wraps an opened database.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// payload is the JSON-encoded mutable part of a session.
type payload struct {
	Messages []core.Message       `json:"messages,omitempty"`
	Facts    map[string]core.Fact `json:"facts,omitempty"`
	Tags     []string             `json:"tags,omitempty"`
}

// Create implements core.SessionStore.
func (s *SessionStore) Create(ctx context.Context, sess *core.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// A thread may only point at one live session at a time.
	var curID, curStatus string
	err = tx.QueryRowContext(ctx, `
		SELECT s.id, s.status FROM thread_index t
		JOIN sessions s ON s.id = t.session_id
		WHERE t.thread_id = ?`, sess.ExternalThreadID).Scan(&curID, &curStatus)
	switch {
	case err == nil:
		st := core.SessionStatus(curStatus)
		if st != core.SessionClosed && st != core.SessionExpired {
			return core.ErrConflict
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return fmt.Errorf("lookup thread: %w", err)
	}

	body, err := json.Marshal(payload{Messages: sess.Messages, Facts: sess.Facts, Tags: sess.Tags})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, thread_id, status, created_at, last_activity_at, context_version, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ExternalThreadID, string(sess.Status),
		sess.CreatedAt.UnixNano(), sess.LastActivityAt.UnixNano(), sess.ContextVersion, string(body),
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO thread_index (thread_id, session_id) VALUES (?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET session_id = excluded.session_id`,
		sess.ExternalThreadID, sess.ID,
	); err != nil {
		return fmt.Errorf("index thread: %w", err)
	}
	return tx.Commit()
}

// Get implements core.SessionStore.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	return s.get(ctx, s.db, sessionID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SessionStore) get(ctx context.Context, q querier, sessionID string) (*core.Session, error) {
	var (
		sess              core.Session
		status            string
		created, activity int64
		body              string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, thread_id, status, created_at, last_activity_at, context_version, payload
		FROM sessions WHERE id = ?`, sessionID,
	).Scan(&sess.ID, &sess.ExternalThreadID, &status, &created, &activity, &sess.ContextVersion, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}

	var p payload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	sess.Status = core.SessionStatus(status)
	sess.CreatedAt = time.Unix(0, created).UTC()
	sess.LastActivityAt = time.Unix(0, activity).UTC()
	sess.Messages = p.Messages
	sess.Facts = p.Facts
	if sess.Facts == nil {
		sess.Facts = make(map[string]core.Fact)
	}
	sess.Tags = p.Tags
	return &sess, nil
}

// GetByThread implements core.SessionStore.
func (s *SessionStore) GetByThread(ctx context.Context, threadID string) (*core.Session, error) {
	var sessionID string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id FROM thread_index WHERE thread_id = ?`, threadID,
	).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select thread: %w", err)
	}
	return s.Get(ctx, sessionID)
}

// Apply implements core.SessionStore: the patch commits only if the stored
// context version still matches expectedVersion.
func (s *SessionStore) Apply(ctx context.Context, sessionID string, expectedVersion uint64, patch core.ContextPatch) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin apply: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := s.get(ctx, tx, sessionID)
	if err != nil {
		return 0, err
	}
	if sess.ContextVersion != expectedVersion {
		return 0, core.ErrConflict
	}

	sess.Apply(patch, time.Now().UTC())
	if err := s.write(ctx, tx, sess, expectedVersion); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit apply: %w", err)
	}
	return sess.ContextVersion, nil
}

// Prune implements core.SessionStore.
func (s *SessionStore) Prune(ctx context.Context, sessionID string, maxMessages int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := s.get(ctx, tx, sessionID)
	if err != nil {
		return 0, err
	}
	expected := sess.ContextVersion
	removed := sess.Prune(maxMessages)
	if removed == 0 {
		return 0, nil
	}
	if err := s.write(ctx, tx, sess, expected); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return removed, nil
}

// write persists the in-memory session state guarded by the version check.
func (s *SessionStore) write(ctx context.Context, tx *sql.Tx, sess *core.Session, expectedVersion uint64) error {
	body, err := json.Marshal(payload{Messages: sess.Messages, Facts: sess.Facts, Tags: sess.Tags})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET status = ?, last_activity_at = ?, context_version = ?, payload = ?
		WHERE id = ? AND context_version = ?`,
		string(sess.Status), sess.LastActivityAt.UnixNano(), sess.ContextVersion, string(body),
		sess.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrConflict
	}
	return nil
}

// List implements core.SessionStore.
func (s *SessionStore) List(ctx context.Context) ([]*core.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	sessions := make([]*core.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, core.ErrSessionNotFound) {
				continue
			}
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

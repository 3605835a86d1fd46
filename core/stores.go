package core

import (
	"context"
	"time"
)

// SessionStore persists sessions. Implementations must support per-key
// atomic compare-and-set: Apply succeeds only when the stored session's
// ContextVersion equals expectedVersion, returning ErrConflict otherwise.
// Returned sessions are clones; mutating them does not touch the store.
type SessionStore interface {
	// Create persists a new session. It fails with ErrConflict if a session
	// for the same external thread already exists.
	Create(ctx context.Context, sess *Session) error

	// Get returns a clone of the session, or ErrSessionNotFound.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// GetByThread returns a clone of the session owning the external thread,
	// or ErrSessionNotFound.
	GetByThread(ctx context.Context, threadID string) (*Session, error)

	// Apply commits a patch iff the stored version matches expectedVersion.
	// On success it returns the new context version.
	Apply(ctx context.Context, sessionID string, expectedVersion uint64, patch ContextPatch) (uint64, error)

	// Prune trims a session's history to at most maxMessages, dropping stale
	// unpinned facts, and returns the number of messages removed.
	Prune(ctx context.Context, sessionID string, maxMessages int) (int, error)

	// List returns clones of all sessions; used by the lifecycle sweeper.
	List(ctx context.Context) ([]*Session, error)
}

// DedupLedger tracks which inbound message ids have been accepted. Admit
// returns nil exactly once per distinct id within the retention window and
// ErrDuplicate afterwards. When the backing store is unreachable it returns
// an error wrapping ErrStoreUnavailable and the turn fails closed.
type DedupLedger interface {
	Admit(ctx context.Context, messageID string, seenAt time.Time) error

	// Forget rolls back an admission. The orchestrator calls it when an
	// admitted turn will never commit (cancelled while queued, rejected by a
	// hook), so a redelivery of the same id is processed instead of dropped.
	Forget(ctx context.Context, messageID string) error

	// Sweep removes entries first seen before cutoff, bounding memory. It
	// returns the number of entries removed.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// AuditStore retains per-turn agent step records for the operator-facing
// read-only query surface. Retention is capped by the implementation.
type AuditStore interface {
	Record(ctx context.Context, sessionID string, result *TurnResult) error

	// Turns returns the recorded results for a session, oldest first.
	Turns(ctx context.Context, sessionID string) ([]*TurnResult, error)
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/threadline-ai/threadline/core"
)

// Ledger is a durable core.DedupLedger over SQLite. Admission is a single
// upsert: the insert wins for new ids, the conditional update wins for ids
// whose retention window has lapsed, and everything else is a duplicate.
type Ledger struct {
	db  *sql.DB
	ttl time.Duration
}

var _ core.DedupLedger = (*Ledger)(nil)

// LedgerOptions configure a Ledger.
type LedgerOptions struct {
	// TTL is the retention window; a message id seen longer ago than this
	// may be admitted again.
	TTL time.Duration
}

// NewLedger wraps an opened database.
func NewLedger(db *sql.DB, optFns ...func(o *LedgerOptions)) *Ledger {
	opts := LedgerOptions{TTL: 72 * time.Hour}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Ledger{db: db, ttl: opts.TTL}
}

// Admit implements core.DedupLedger. Failures wrap core.ErrStoreUnavailable
// so the engine fails closed instead of risking double processing.
func (l *Ledger) Admit(ctx context.Context, messageID string, seenAt time.Time) error {
	cutoff := seenAt.Add(-l.ttl).UnixNano()
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO dedup_ledger (message_id, first_seen_at) VALUES (?, ?)
		ON CONFLICT(message_id) DO UPDATE SET first_seen_at = excluded.first_seen_at
		WHERE dedup_ledger.first_seen_at < ?`,
		messageID, seenAt.UnixNano(), cutoff,
	)
	if err != nil {
		return fmt.Errorf("%w: admit %s: %v", core.ErrStoreUnavailable, messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: admit %s: %v", core.ErrStoreUnavailable, messageID, err)
	}
	if n == 0 {
		return core.ErrDuplicate
	}
	return nil
}

// Forget implements core.DedupLedger, removing an admission so the id can be
// admitted again after a rolled-back turn.
func (l *Ledger) Forget(ctx context.Context, messageID string) error {
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM dedup_ledger WHERE message_id = ?`, messageID,
	); err != nil {
		return fmt.Errorf("%w: forget %s: %v", core.ErrStoreUnavailable, messageID, err)
	}
	return nil
}

// Sweep implements core.DedupLedger.
func (l *Ledger) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM dedup_ledger WHERE first_seen_at < ?`, cutoff.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep ledger: %w", err)
	}
	return int(n), nil
}

// Package ledger implements the deduplication ledger: an idempotence gate
// that admits each inbound message id exactly once within a retention window.
// The external channel delivers at-least-once, so duplicates are expected and
// benign.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/threadline-ai/threadline/core"
	"github.com/threadline-ai/threadline/logging"
)

// Record tracks the first sighting of a message id.
type Record struct {
	MessageID   string    `json:"message_id"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}

// Options configures the in-memory ledger.
type Options struct {
	// TTL is the retention window for seen ids. Entries older than TTL are
	// eligible for sweeping; it must exceed the channel's redelivery window.
	TTL time.Duration
	// Logger receives sweep activity at debug level.
	Logger logging.Logger
}

// InMemoryLedger is a process-local core.DedupLedger backed by a map from
// message id to first-seen timestamp. Safe for concurrent use.
type InMemoryLedger struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration

	logger logging.Logger
}

var _ core.DedupLedger = (*InMemoryLedger)(nil)

// NewInMemoryLedger constructs an empty ledger with optional overrides.
func NewInMemoryLedger(optFns ...func(o *Options)) *InMemoryLedger {
	opts := Options{
		TTL:    72 * time.Hour,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryLedger{
		seen:   make(map[string]time.Time),
		ttl:    opts.TTL,
		logger: opts.Logger,
	}
}

// Admit returns nil exactly once per distinct message id within the TTL and
// core.ErrDuplicate on every subsequent call with the same id.
func (l *InMemoryLedger) Admit(_ context.Context, messageID string, seenAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if first, ok := l.seen[messageID]; ok && seenAt.Sub(first) < l.ttl {
		return core.ErrDuplicate
	}
	l.seen[messageID] = seenAt
	return nil
}

// Forget removes a message id so it can be admitted again. Called by the
// orchestrator to roll back an admission whose turn will never commit.
func (l *InMemoryLedger) Forget(_ context.Context, messageID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, messageID)
	return nil
}

// Sweep removes entries first seen before cutoff and returns the count.
func (l *InMemoryLedger) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, first := range l.seen {
		if first.Before(cutoff) {
			delete(l.seen, id)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug("ledger sweep removed=%d remaining=%d", removed, len(l.seen))
	}
	return removed, nil
}

// Len returns the number of retained records.
func (l *InMemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Sweeper runs periodic TTL sweeps against any core.DedupLedger until the
// context is cancelled.
type Sweeper struct {
	ledger   core.DedupLedger
	ttl      time.Duration
	interval time.Duration
	logger   logging.Logger
}

// NewSweeper constructs a sweeper for the given ledger.
func NewSweeper(ledger core.DedupLedger, ttl, interval time.Duration, logger logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Sweeper{ledger: ledger, ttl: ttl, interval: interval, logger: logger}
}

// Run blocks, sweeping every interval, until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := s.ledger.Sweep(ctx, now.Add(-s.ttl)); err != nil {
				s.logger.Warn("ledger sweep failed: %v", err)
			}
		}
	}
}

// Package audit retains per-turn agent step records for the operator-facing
// query surface. The audit trail is observability data, not conversation
// state: losing it never affects routing or replies.
package audit

import (
	"context"
	"sync"

	"github.com/threadline-ai/threadline/core"
)

// DefaultMaxTurnsPerSession bounds the in-memory trail per session.
const DefaultMaxTurnsPerSession = 200

// InMemoryStore is an in-process AuditStore. Turn results are copied on
// record and retrieval to avoid accidental external mutation of internal
// state. Retention per session is capped; the oldest records drop first.
type InMemoryStore struct {
	mu       sync.RWMutex
	maxTurns int
	turns    map[string][]*core.TurnResult // sessionID -> results, oldest first
}

// InMemoryStoreOptions configure an InMemoryStore.
type InMemoryStoreOptions struct {
	// MaxTurnsPerSession caps retention per session; older records are
	// evicted first.
	MaxTurnsPerSession int
}

// NewInMemoryStore returns an empty in-memory audit store.
func NewInMemoryStore(optFns ...func(o *InMemoryStoreOptions)) *InMemoryStore {
	opts := InMemoryStoreOptions{MaxTurnsPerSession: DefaultMaxTurnsPerSession}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{
		maxTurns: opts.MaxTurnsPerSession,
		turns:    make(map[string][]*core.TurnResult),
	}
}

// Record implements core.AuditStore.
func (s *InMemoryStore) Record(_ context.Context, sessionID string, result *core.TurnResult) error {
	if result == nil {
		return nil
	}
	cp := copyResult(result)

	s.mu.Lock()
	defer s.mu.Unlock()
	trail := append(s.turns[sessionID], cp)
	if s.maxTurns > 0 && len(trail) > s.maxTurns {
		trail = trail[len(trail)-s.maxTurns:]
	}
	s.turns[sessionID] = trail
	return nil
}

// Turns implements core.AuditStore.
func (s *InMemoryStore) Turns(_ context.Context, sessionID string) ([]*core.TurnResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trail := s.turns[sessionID]
	out := make([]*core.TurnResult, len(trail))
	for i, r := range trail {
		out[i] = copyResult(r)
	}
	return out, nil
}

// Drop removes a session's trail, used when a session is pruned away.
func (s *InMemoryStore) Drop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, sessionID)
}

func copyResult(r *core.TurnResult) *core.TurnResult {
	cp := *r
	cp.Steps = append([]core.AgentStep(nil), r.Steps...)
	var patch core.ContextPatch
	patch.Merge(r.Patch)
	cp.Patch = patch
	return &cp
}

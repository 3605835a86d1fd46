package session

import (
	"context"
	"sync"
	"time"

	"github.com/threadline-ai/threadline/core"
)

// InMemoryStore is a volatile core.SessionStore keeping sessions in a
// process-local map. Safe for concurrent access; every returned session is a
// clone so callers cannot mutate store state. Best suited for tests and
// single-node deployments; use store/sqlite for durability.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session // session id -> session
	byThread map[string]string        // external thread id -> current session id
}

var _ core.SessionStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*core.Session),
		byThread: make(map[string]string),
	}
}

// Create persists a new session and points its external thread at it. A
// thread may only have one non-terminal session; Create fails with
// ErrConflict if one exists.
func (s *InMemoryStore) Create(_ context.Context, sess *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byThread[sess.ExternalThreadID]; ok {
		if cur, ok := s.sessions[id]; ok && cur.Status != core.SessionClosed && cur.Status != core.SessionExpired {
			return core.ErrConflict
		}
	}
	clone := sess.Clone()
	s.sessions[clone.ID] = clone
	s.byThread[clone.ExternalThreadID] = clone.ID
	return nil
}

// Get returns a clone of the session or ErrSessionNotFound.
func (s *InMemoryStore) Get(_ context.Context, sessionID string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// GetByThread returns a clone of the thread's current session.
func (s *InMemoryStore) GetByThread(_ context.Context, threadID string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byThread[threadID]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// Apply commits a patch iff the stored context version matches.
func (s *InMemoryStore) Apply(_ context.Context, sessionID string, expectedVersion uint64, patch core.ContextPatch) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0, core.ErrSessionNotFound
	}
	if sess.ContextVersion != expectedVersion {
		return 0, core.ErrConflict
	}
	sess.Apply(patch, time.Now().UTC())
	return sess.ContextVersion, nil
}

// Prune trims the session history to maxMessages.
func (s *InMemoryStore) Prune(_ context.Context, sessionID string, maxMessages int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0, core.ErrSessionNotFound
	}
	return sess.Prune(maxMessages), nil
}

// List returns clones of all stored sessions.
func (s *InMemoryStore) List(_ context.Context) ([]*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	return out, nil
}

package core

import (
	"sync"
	"time"
)

// SessionStatus is the lifecycle state of a conversation session.
type SessionStatus string

const (
	// SessionActive is a session that has seen recent traffic.
	SessionActive SessionStatus = "active"
	// SessionIdle is a session past the idle timeout; it reactivates on the
	// next inbound message.
	SessionIdle SessionStatus = "idle"
	// SessionExpired is a session past the hard TTL, eligible for pruning.
	SessionExpired SessionStatus = "expired"
	// SessionClosed is terminal; no further turns are processed.
	SessionClosed SessionStatus = "closed"
)

// CanTransition reports whether the session state machine permits moving
// from s to next. The machine is active ⇄ idle → expired → closed, with
// closed reachable directly from any state and terminal once entered.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	if s == SessionClosed {
		return false
	}
	if next == SessionClosed {
		return true
	}
	switch s {
	case SessionActive:
		return next == SessionIdle
	case SessionIdle:
		return next == SessionActive || next == SessionExpired
	case SessionExpired:
		return false
	default:
		return false
	}
}

// Fact is one extracted key/value pair attached to a session. Facts are
// last-writer-wins; pinned facts survive pruning.
type Fact struct {
	Value     string    `json:"value"`
	Pinned    bool      `json:"pinned"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session is the persistent state of one external conversation thread. It
// owns an append-only, time-ordered message sequence and a fact map.
//
// Contract:
//   - ContextVersion strictly increases on every committed mutation
//   - Messages is append-only; ordering is ReceivedAt for inbound, commit
//     time for outbound
//   - All mutation goes through the lifecycle manager's checkout/commit
//     protocol; components other than the manager only ever see clones
//   - Clone returns a deep copy safe for independent use.
type Session struct {
	ID               string          `json:"id"`
	ExternalThreadID string          `json:"external_thread_id"`
	Status           SessionStatus   `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	LastActivityAt   time.Time       `json:"last_activity_at"`
	ContextVersion   uint64          `json:"context_version"`
	Messages         []Message       `json:"messages"`
	Facts            map[string]Fact `json:"facts"`
	Tags             []string        `json:"tags,omitempty"`

	mu sync.RWMutex
}

// NewSession creates an active session for the given external thread.
func NewSession(id, externalThreadID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:               id,
		ExternalThreadID: externalThreadID,
		Status:           SessionActive,
		CreatedAt:        now,
		LastActivityAt:   now,
		Facts:            map[string]Fact{},
	}
}

// GetFact returns the fact stored under key plus an existence flag.
func (s *Session) GetFact(key string) (Fact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.Facts[key]
	return f, ok
}

// FactValue is a convenience accessor returning only the value string.
func (s *Session) FactValue(key string) string {
	f, _ := s.GetFact(key)
	return f.Value
}

// GetMessages returns a defensive copy of the full message sequence.
func (s *Session) GetMessages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]Message, len(s.Messages))
	copy(msgs, s.Messages)
	return msgs
}

// RecentMessages returns a copy of the most recent n messages, oldest first.
// It returns all messages when n exceeds the history length.
func (s *Session) RecentMessages(n int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.Messages) {
		n = len(s.Messages)
	}
	msgs := make([]Message, n)
	copy(msgs, s.Messages[len(s.Messages)-n:])
	return msgs
}

// HasMessage reports whether a message with the given id is already part of
// the session history.
func (s *Session) HasMessage(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return true
		}
	}
	return false
}

// Apply mutates the session with the given patch and bumps ContextVersion.
// It is the single mutation path used by store implementations; callers
// outside a store must go through the lifecycle manager instead.
func (s *Session) Apply(patch ContextPatch, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Messages = append(s.Messages, patch.Messages...)
	for k, f := range patch.Facts {
		s.Facts[k] = f
	}
	s.Tags = mergeTags(s.Tags, patch.Tags)
	if patch.Status != nil && s.Status.CanTransition(*patch.Status) {
		s.Status = *patch.Status
	}
	if patch.Touch {
		s.LastActivityAt = now
	}
	s.ContextVersion++
}

// PruneLocked trims the history to the most recent maxMessages entries and
// drops unpinned facts older than the oldest retained message. It returns the
// number of messages removed. Callers must treat the session as checked out.
func (s *Session) Prune(maxMessages int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxMessages <= 0 || len(s.Messages) <= maxMessages {
		return 0
	}
	removed := len(s.Messages) - maxMessages
	cutoff := s.Messages[removed].ReceivedAt
	s.Messages = append([]Message(nil), s.Messages[removed:]...)
	for k, f := range s.Facts {
		if !f.Pinned && f.UpdatedAt.Before(cutoff) {
			delete(s.Facts, k)
		}
	}
	s.ContextVersion++
	return removed
}

// Clone returns a deep copy of the session (maps and slices) minus the mutex.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := &Session{
		ID:               s.ID,
		ExternalThreadID: s.ExternalThreadID,
		Status:           s.Status,
		CreatedAt:        s.CreatedAt,
		LastActivityAt:   s.LastActivityAt,
		ContextVersion:   s.ContextVersion,
		Messages:         make([]Message, len(s.Messages)),
		Facts:            make(map[string]Fact, len(s.Facts)),
		Tags:             append([]string(nil), s.Tags...),
	}
	copy(clone.Messages, s.Messages)
	for k, f := range s.Facts {
		clone.Facts[k] = f
	}
	return clone
}

// mergeTags appends tags not already present, preserving insertion order.
func mergeTags(existing, incoming []string) []string {
	if len(incoming) == 0 {
		return existing
	}
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range incoming {
		if !seen[t] {
			existing = append(existing, t)
			seen[t] = true
		}
	}
	return existing
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/threadline-ai/threadline/core"
	"github.com/threadline-ai/threadline/logging"
)

// Lease is an exclusive, time-bounded right to commit one turn's mutations to
// a session. The version captured at checkout is the CAS guard for commit.
type Lease struct {
	ID         string
	SessionID  string
	Version    uint64
	AcquiredAt time.Time
	Deadline   time.Time
}

// Expired reports whether the lease deadline has passed.
func (l *Lease) Expired(now time.Time) bool { return now.After(l.Deadline) }

// Options configures the lifecycle manager.
type Options struct {
	// LeaseTTL bounds how long a turn may hold a session lease. Expired
	// leases are reclaimable so a stuck turn cannot wedge a conversation.
	LeaseTTL time.Duration
	Logger   logging.Logger
}

// Manager owns session lifecycle: creation, checkout/commit, close. It is
// the sole mutation gate for session context — no other path may write.
type Manager struct {
	store    core.SessionStore
	leaseTTL time.Duration
	logger   logging.Logger

	mu      sync.Mutex
	leases  map[string]*Lease      // session id -> active lease
	creates map[string]*sync.Mutex // external thread id -> creation token
}

// NewManager constructs a Manager over the given store.
func NewManager(store core.SessionStore, optFns ...func(o *Options)) *Manager {
	opts := Options{
		LeaseTTL: 2 * time.Minute,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		store:    store,
		leaseTTL: opts.LeaseTTL,
		logger:   opts.Logger,
		leases:   make(map[string]*Lease),
		creates:  make(map[string]*sync.Mutex),
	}
}

// creationLock returns the per-thread mutual-exclusion token, allocating it
// on first use. The token is held only for the create-or-fetch step.
func (m *Manager) creationLock(threadID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.creates[threadID]
	if !ok {
		lock = &sync.Mutex{}
		m.creates[threadID] = lock
	}
	return lock
}

// ResolveOrCreate returns the current session for an external thread,
// creating one if the thread is new or its previous session reached a
// terminal state. Concurrent calls for the same thread serialize to a single
// creation.
func (m *Manager) ResolveOrCreate(ctx context.Context, threadID string) (*core.Session, error) {
	lock := m.creationLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.store.GetByThread(ctx, threadID)
	switch {
	case err == nil:
		if sess.Status != core.SessionClosed && sess.Status != core.SessionExpired {
			return sess, nil
		}
		// Terminal session: the thread gets a fresh one.
	case errors.Is(err, core.ErrSessionNotFound):
		// First message from this thread.
	default:
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	fresh := core.NewSession(core.NewID(), threadID)
	if err := m.store.Create(ctx, fresh); err != nil {
		if errors.Is(err, core.ErrConflict) {
			// Lost a race with another creator; fetch theirs.
			return m.store.GetByThread(ctx, threadID)
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.logger.Info("session created session_id=%s thread_id=%s", fresh.ID, threadID)
	return fresh.Clone(), nil
}

// Checkout acquires the exclusive lease on a session for one turn and
// returns a snapshot taken under it. Returns core.ErrSessionBusy when
// another live lease exists and core.ErrSessionClosed for terminal sessions.
func (m *Manager) Checkout(ctx context.Context, sessionID string) (*core.Session, *Lease, error) {
	now := time.Now().UTC()

	m.mu.Lock()
	if cur, ok := m.leases[sessionID]; ok {
		if !cur.Expired(now) {
			m.mu.Unlock()
			return nil, nil, core.ErrSessionBusy
		}
		// Reclaim an expired lease; its holder can no longer commit.
		m.logger.Warn("reclaiming expired lease session_id=%s lease_id=%s", sessionID, cur.ID)
		delete(m.leases, sessionID)
	}
	lease := &Lease{
		ID:         core.NewID(),
		SessionID:  sessionID,
		AcquiredAt: now,
		Deadline:   now.Add(m.leaseTTL),
	}
	m.leases[sessionID] = lease
	m.mu.Unlock()

	snapshot, err := m.store.Get(ctx, sessionID)
	if err != nil {
		m.Release(lease)
		return nil, nil, err
	}
	if snapshot.Status == core.SessionClosed {
		m.Release(lease)
		return nil, nil, core.ErrSessionClosed
	}
	lease.Version = snapshot.ContextVersion
	return snapshot, lease, nil
}

// Commit applies the patch iff the session's context version still matches
// the one observed at checkout. The lease is released whether or not the
// commit succeeds; on core.ErrConflict the caller retries from Checkout.
func (m *Manager) Commit(ctx context.Context, lease *Lease, patch core.ContextPatch) (uint64, error) {
	if err := m.validate(lease); err != nil {
		return 0, err
	}
	defer m.Release(lease)

	version, err := m.store.Apply(ctx, lease.SessionID, lease.Version, patch)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Release abandons a lease without committing. Safe to call twice.
func (m *Manager) Release(lease *Lease) {
	if lease == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.leases[lease.SessionID]; ok && cur.ID == lease.ID {
		delete(m.leases, lease.SessionID)
	}
}

// validate confirms the lease is still the active one and within its TTL.
func (m *Manager) validate(lease *Lease) error {
	if lease == nil {
		return core.ErrLeaseExpired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.leases[lease.SessionID]
	if !ok || cur.ID != lease.ID {
		return core.ErrLeaseExpired
	}
	if cur.Expired(time.Now().UTC()) {
		delete(m.leases, lease.SessionID)
		return core.ErrLeaseExpired
	}
	return nil
}

// Leased reports whether a live lease currently exists for the session.
func (m *Manager) Leased(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.leases[sessionID]
	return ok && !cur.Expired(time.Now().UTC())
}

// Close moves a session to the terminal closed state, retrying through
// version conflicts. Used for explicit termination by an agent control
// signal or an operator.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	for attempt := 0; attempt < 5; attempt++ {
		sess, err := m.store.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status == core.SessionClosed {
			return nil
		}
		if _, err := m.store.Apply(ctx, sessionID, sess.ContextVersion, core.StatusPatch(core.SessionClosed)); err != nil {
			if errors.Is(err, core.ErrConflict) {
				continue
			}
			return err
		}
		m.logger.Info("session closed session_id=%s", sessionID)
		return nil
	}
	return core.ErrConflict
}

// Status returns a read-only clone for the operator surface.
func (m *Manager) Status(ctx context.Context, sessionID string) (*core.Session, error) {
	return m.store.Get(ctx, sessionID)
}

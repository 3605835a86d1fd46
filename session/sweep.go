package session

import (
	"context"
	"errors"
	"time"

	"github.com/threadline-ai/threadline/core"
	"github.com/threadline-ai/threadline/logging"
)

// SweepConfig holds the lifecycle thresholds the sweeper enforces.
type SweepConfig struct {
	IdleTimeout      time.Duration
	HardTTL          time.Duration
	MaxTurnsRetained int
	Interval         time.Duration
}

// SweepStats summarizes one sweep pass.
type SweepStats struct {
	Idled   int
	Expired int
	Pruned  int // messages removed across all pruned sessions
}

// Sweeper applies lifecycle transitions in the background: sessions inactive
// past IdleTimeout become idle, sessions inactive past HardTTL become expired
// and have their context pruned to MaxTurnsRetained. Transitions go through
// the store's CAS so a sweep never clobbers an in-flight turn; conflicts are
// simply skipped and retried on the next pass.
type Sweeper struct {
	manager *Manager
	store   core.SessionStore
	cfg     SweepConfig
	logger  logging.Logger
}

// NewSweeper constructs a Sweeper.
func NewSweeper(manager *Manager, store core.SessionStore, cfg SweepConfig, logger logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Sweeper{manager: manager, store: store, cfg: cfg, logger: logger}
}

// Run blocks, sweeping every Interval, until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Warn("lifecycle sweep failed: %v", err)
			}
		}
	}
}

// SweepOnce runs a single pass over all sessions.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	sessions, err := s.store.List(ctx)
	if err != nil {
		return stats, err
	}
	now := time.Now().UTC()

	for _, sess := range sessions {
		// A leased session is mid-turn; leave it to the next pass.
		if s.manager.Leased(sess.ID) {
			continue
		}
		inactive := now.Sub(sess.LastActivityAt)

		switch sess.Status {
		case core.SessionActive:
			if inactive >= s.cfg.IdleTimeout {
				if s.transition(ctx, sess, core.SessionIdle) {
					stats.Idled++
				}
			}
		case core.SessionIdle:
			if inactive >= s.cfg.HardTTL {
				if s.transition(ctx, sess, core.SessionExpired) {
					stats.Expired++
					removed, err := s.store.Prune(ctx, sess.ID, s.cfg.MaxTurnsRetained)
					if err != nil {
						s.logger.Warn("prune failed session_id=%s: %v", sess.ID, err)
						continue
					}
					stats.Pruned += removed
				}
			}
		case core.SessionExpired, core.SessionClosed:
			// Terminal for the sweeper's purposes.
		}
	}
	if stats.Idled+stats.Expired+stats.Pruned > 0 {
		s.logger.Debug("lifecycle sweep idled=%d expired=%d pruned=%d", stats.Idled, stats.Expired, stats.Pruned)
	}
	return stats, nil
}

// transition attempts one CAS status change; version conflicts are skipped.
func (s *Sweeper) transition(ctx context.Context, sess *core.Session, next core.SessionStatus) bool {
	_, err := s.store.Apply(ctx, sess.ID, sess.ContextVersion, core.StatusPatch(next))
	if err != nil {
		if !errors.Is(err, core.ErrConflict) {
			s.logger.Warn("sweep transition failed session_id=%s: %v", sess.ID, err)
		}
		return false
	}
	return true
}

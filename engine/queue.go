package engine

import (
	"context"
	"sync"

	"github.com/threadline-ai/threadline/core"
)

// turnGate serializes turns per session in arrival order. One caller holds
// the gate while its turn runs; the rest wait in a bounded FIFO. Overflow is
// rejected immediately with core.ErrQueueFull rather than blocking the
// transport.
type turnGate struct {
	mu       sync.Mutex
	capacity int
	queues   map[string]*gateEntry
}

type gateEntry struct {
	active  bool
	waiters []chan struct{}
}

func newTurnGate(capacity int) *turnGate {
	return &turnGate{capacity: capacity, queues: make(map[string]*gateEntry)}
}

// Enter blocks until the caller may run a turn for the session, in FIFO
// order. It fails with core.ErrQueueFull when the wait queue is at capacity
// and with the context error if the caller gives up while queued.
func (g *turnGate) Enter(ctx context.Context, sessionID string) error {
	g.mu.Lock()
	entry, ok := g.queues[sessionID]
	if !ok {
		entry = &gateEntry{}
		g.queues[sessionID] = entry
	}
	if !entry.active {
		entry.active = true
		g.mu.Unlock()
		return nil
	}
	if g.capacity > 0 && len(entry.waiters) >= g.capacity {
		g.mu.Unlock()
		return core.ErrQueueFull
	}
	ready := make(chan struct{})
	entry.waiters = append(entry.waiters, ready)
	g.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		g.abandon(sessionID, ready)
		return ctx.Err()
	}
}

// Leave releases the gate and hands it to the oldest waiter, if any.
func (g *turnGate) Leave(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.queues[sessionID]
	if !ok {
		return
	}
	if len(entry.waiters) == 0 {
		delete(g.queues, sessionID)
		return
	}
	next := entry.waiters[0]
	entry.waiters = entry.waiters[1:]
	close(next)
}

// Depth returns how many turns are queued behind the active one.
func (g *turnGate) Depth(sessionID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if entry, ok := g.queues[sessionID]; ok {
		return len(entry.waiters)
	}
	return 0
}

// abandon removes a waiter that gave up. If the gate was handed to it in the
// meantime, pass it along instead.
func (g *turnGate) abandon(sessionID string, ready chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.queues[sessionID]
	if !ok {
		return
	}
	for i, w := range entry.waiters {
		if w == ready {
			entry.waiters = append(entry.waiters[:i], entry.waiters[i+1:]...)
			return
		}
	}
	// Not in the queue: ownership already transferred. Hand it on.
	select {
	case <-ready:
		if len(entry.waiters) == 0 {
			delete(g.queues, sessionID)
			return
		}
		next := entry.waiters[0]
		entry.waiters = entry.waiters[1:]
		close(next)
	default:
	}
}

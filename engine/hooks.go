package engine

import (
	"fmt"
	"sync"

	"github.com/threadline-ai/threadline/core"
)

// HookType names the lifecycle points where hooks run.
type HookType string

const (
	// HookBeforeTurn runs after a message is admitted, before routing.
	HookBeforeTurn HookType = "before_turn"
	// HookAfterTurn runs after a turn commits, with the full result.
	HookAfterTurn HookType = "after_turn"
	// HookOnStateChange runs when a turn changes the session status.
	HookOnStateChange HookType = "on_state_change"
	// HookOnError runs when a turn fails before producing a result.
	HookOnError HookType = "on_error"
)

// HookContext carries the information available at a hook point. Fields not
// meaningful for a given hook type are zero.
type HookContext struct {
	Type      HookType
	SessionID string
	TurnID    string
	Inbound   core.Inbound
	Result    *core.TurnResult
	// Status is the session status after the transition for
	// HookOnStateChange.
	Status core.SessionStatus
	Err    error
}

// Hook is a synchronous lifecycle observer. A non-nil error from
// HookBeforeTurn aborts the turn; errors from other hook types are logged
// and ignored.
type Hook func(hc HookContext) error

// hookSet is a small registry of hooks keyed by type.
type hookSet struct {
	mu    sync.RWMutex
	hooks map[HookType][]Hook
}

func newHookSet() *hookSet {
	return &hookSet{hooks: make(map[HookType][]Hook)}
}

func (h *hookSet) add(t HookType, hook Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks[t] = append(h.hooks[t], hook)
}

// fire runs the hooks registered for hc.Type in registration order and
// returns the first error.
func (h *hookSet) fire(hc HookContext) error {
	h.mu.RLock()
	hooks := h.hooks[hc.Type]
	h.mu.RUnlock()
	for i, hook := range hooks {
		if err := hook(hc); err != nil {
			return fmt.Errorf("hook %s[%d]: %w", hc.Type, i, err)
		}
	}
	return nil
}

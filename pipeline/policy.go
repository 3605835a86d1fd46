package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/threadline-ai/threadline/core"
)

// FailurePolicy selects what the executor does when an agent step fails
// after exhausting its retry budget.
type FailurePolicy string

const (
	// PolicySkip drops the failed step's contribution and continues with
	// the rest of the sequence.
	PolicySkip FailurePolicy = "skip-and-continue"
	// PolicyAbort stops the turn; remaining steps are skipped and the
	// deterministic fallback reply is used.
	PolicyAbort FailurePolicy = "abort-turn"
	// PolicyFallback substitutes the configured fallback reply for the turn
	// and skips the remaining steps.
	PolicyFallback FailurePolicy = "substitute-fallback-reply"
)

// StepConfig is the per-agent execution policy.
type StepConfig struct {
	// Timeout bounds one invocation attempt; zero uses the executor default.
	Timeout time.Duration
	// Policy applies after the retry budget is exhausted; empty means skip.
	Policy FailurePolicy
	// Retry overrides the executor's retry policy when non-nil.
	Retry *RetryPolicy
	// Independent declares the agent's output does not depend on the prior
	// agent's output, allowing concurrent execution with its neighbors.
	// Merge order into the context patch remains router order.
	Independent bool
	// FallbackReply overrides the executor's fallback for PolicyFallback.
	FallbackReply string
}

// Registry is the closed set of agents the router may select from. Agents
// are registered once at startup; lookups are by identifier.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

// Registration pairs an agent with its execution policy.
type Registration struct {
	Agent  core.Agent
	Config StepConfig
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Register adds an agent under its own name. Duplicate names are an error:
// the set is closed and unambiguous.
func (r *Registry) Register(agent core.Agent, cfg StepConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := agent.Name()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("agent %q already registered", name)
	}
	r.entries[name] = Registration{Agent: agent, Config: cfg}
	return nil
}

// Get returns the registration for name.
func (r *Registry) Get(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	return reg, ok
}

// Names returns all registered agent identifiers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	return names
}

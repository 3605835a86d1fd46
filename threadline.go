// Package threadline provides a high-level façade over the conversation
// orchestration engine: dedup ledger, session lifecycle, deterministic
// routing and the agent pipeline. Most applications interact with this
// package by:
//
//  1. Creating a Threadline via New() (optionally overriding the default
//     in-memory stores with the sqlite implementations and plugging a real
//     model backend)
//  2. Registering agents, or accepting the built-in
//     intent/support/handoff trio
//  3. Starting the background sweepers with Start()
//  4. Feeding inbound messages to HandleInbound()
//
// All defaults are safe for local development and testing; production
// deployments supply durable stores, a structured logger and a metrics
// recorder.
package threadline

import (
	"context"
	"sync"

	"github.com/threadline-ai/threadline/agent"
	"github.com/threadline-ai/threadline/audit"
	"github.com/threadline-ai/threadline/config"
	"github.com/threadline-ai/threadline/core"
	"github.com/threadline-ai/threadline/engine"
	"github.com/threadline-ai/threadline/ledger"
	"github.com/threadline-ai/threadline/logging"
	"github.com/threadline-ai/threadline/model"
	"github.com/threadline-ai/threadline/pipeline"
	"github.com/threadline-ai/threadline/router"
	"github.com/threadline-ai/threadline/session"
)

// Options configures a Threadline instance.
type Options struct {
	// Config carries the tunable policy: timeouts, TTLs, retry budgets.
	Config config.Config

	// SessionStore defaults to the in-memory implementation; pass the
	// sqlite store for durability.
	SessionStore core.SessionStore
	// Ledger defaults to the in-memory dedup ledger.
	Ledger core.DedupLedger
	// Audit defaults to the in-memory audit store.
	Audit core.AuditStore

	// Model backs the support agent. Defaults to a mock backend so local
	// setups work without credentials; production passes the anthropic or
	// openai implementation.
	Model model.Model

	// Router defaults to the keyword rule router with the built-in table.
	Router engine.Router

	// Recorder receives turn metrics; defaults to a no-op.
	Recorder engine.Recorder

	// Logger defaults to NoOp. Supply logging.NewLogger(nil) for the built-in
	// slog-backed logger or any implementation of the interface.
	Logger logging.Logger

	// DisableBuiltinAgents skips registration of the intent/support/handoff
	// trio; callers then register their own agents before handling traffic.
	DisableBuiltinAgents bool
}

// Threadline aggregates the engine and its collaborators behind a small API.
type Threadline struct {
	opts     Options
	engine   *engine.Engine
	registry *pipeline.Registry
	sessions *session.Manager
	store    core.SessionStore
	ledger   core.DedupLedger

	startOnce sync.Once
	cancel    context.CancelFunc
	done      sync.WaitGroup
}

// New creates a Threadline instance with optional overrides. Any unset
// collaborator is initialized with a safe in-memory default.
func New(optFns ...func(o *Options)) (*Threadline, error) {
	opts := Options{
		Config:   config.Default(),
		Logger:   logging.NoOpLogger{},
		Recorder: engine.NopRecorder{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.SessionStore == nil {
		opts.SessionStore = session.NewInMemoryStore()
	}
	if opts.Ledger == nil {
		opts.Ledger = ledger.NewInMemoryLedger(func(o *ledger.Options) {
			o.TTL = opts.Config.Ledger.TTL
		})
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewInMemoryStore()
	}
	if opts.Model == nil {
		opts.Model = model.NewMockModel("local-dev")
	}
	if opts.Router == nil {
		opts.Router = router.New(func(o *router.Options) {
			o.Logger = componentLogger(opts.Logger, "router")
		})
	}

	registry := pipeline.NewRegistry()
	if !opts.DisableBuiltinAgents {
		if err := registerBuiltins(registry, opts); err != nil {
			return nil, err
		}
	}

	executor := pipeline.NewExecutor(registry, func(o *pipeline.ExecutorOptions) {
		o.DefaultTimeout = opts.Config.Pipeline.AgentTimeout
		o.DefaultRetry = retryPolicy(opts.Config.Pipeline.Retry)
		o.FallbackReply = opts.Config.Pipeline.FallbackReply
		o.Logger = componentLogger(opts.Logger, "pipeline")
	})

	sessions := session.NewManager(opts.SessionStore, func(o *session.Options) {
		o.Logger = componentLogger(opts.Logger, "session")
	})

	eng := engine.New(opts.Ledger, sessions, opts.Router, executor, func(o *engine.Options) {
		o.QueueSize = opts.Config.Session.QueueSize
		o.Logger = componentLogger(opts.Logger, "engine")
		o.Recorder = opts.Recorder
		o.Audit = opts.Audit
	})

	return &Threadline{
		opts:     opts,
		engine:   eng,
		registry: registry,
		sessions: sessions,
		store:    opts.SessionStore,
		ledger:   opts.Ledger,
	}, nil
}

// registerBuiltins wires the default intent → support → handoff agents with
// the configured resilience policies.
func registerBuiltins(registry *pipeline.Registry, opts Options) error {
	retry := retryPolicy(opts.Config.Pipeline.Retry)

	if err := registry.Register(agent.NewIntentAgent(), pipeline.StepConfig{}); err != nil {
		return err
	}
	support := agent.NewSupportAgent(opts.Model, func(o *agent.SupportAgentOptions) {
		o.HistoryWindow = opts.Config.Pipeline.HistoryWindow
	})
	if err := registry.Register(support, pipeline.StepConfig{
		Policy: pipeline.PolicyFallback,
		Retry:  &retry,
	}); err != nil {
		return err
	}
	return registry.Register(agent.NewHandoffAgent(), pipeline.StepConfig{})
}

// componentLogger scopes the shared logger per subsystem when the caller
// supplied the built-in EngineLogger; other Logger implementations are used
// as-is.
func componentLogger(l logging.Logger, component string) logging.Logger {
	if el, ok := l.(*logging.EngineLogger); ok {
		return el.WithComponent(component)
	}
	return l
}

func retryPolicy(rc config.RetryConfig) pipeline.RetryPolicy {
	return pipeline.RetryPolicy{
		MaxRetries:     rc.MaxRetries,
		InitialBackoff: rc.InitialBackoff,
		MaxBackoff:     rc.MaxBackoff,
		BackoffFactor:  rc.BackoffFactor,
		Jitter:         rc.Jitter,
	}
}

// RegisterAgent adds an agent to the pipeline registry with its execution
// policy. Must happen before the router can route to it.
func (t *Threadline) RegisterAgent(a core.Agent, cfg pipeline.StepConfig) error {
	return t.registry.Register(a, cfg)
}

// OnHook registers an engine lifecycle hook.
func (t *Threadline) OnHook(ht engine.HookType, hook engine.Hook) {
	t.engine.OnHook(ht, hook)
}

// Start launches the background sweepers (session lifecycle, dedup ledger).
// It is idempotent; Stop shuts them down.
func (t *Threadline) Start() {
	t.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel

		lifecycle := session.NewSweeper(t.sessions, t.store, session.SweepConfig{
			IdleTimeout:      t.opts.Config.Session.IdleTimeout,
			HardTTL:          t.opts.Config.Session.HardTTL,
			MaxTurnsRetained: t.opts.Config.Session.MaxTurnsRetained,
			Interval:         t.opts.Config.Session.SweepInterval,
		}, componentLogger(t.opts.Logger, "sweep"))

		dedup := ledger.NewSweeper(t.ledger,
			t.opts.Config.Ledger.TTL, t.opts.Config.Ledger.SweepInterval,
			componentLogger(t.opts.Logger, "ledger"))

		t.done.Add(2)
		go func() { defer t.done.Done(); lifecycle.Run(ctx) }()
		go func() { defer t.done.Done(); dedup.Run(ctx) }()
	})
}

// Stop terminates the background sweepers and waits for them to exit.
func (t *Threadline) Stop() {
	if t.cancel != nil {
		t.cancel()
		t.done.Wait()
	}
}

// HandleInbound processes one inbound message end to end and returns the
// reply to deliver, core.ErrDuplicate for redeliveries, or core.ErrQueueFull
// when the session's pending-turn queue is at capacity.
func (t *Threadline) HandleInbound(ctx context.Context, in core.Inbound) (*core.OutboundReply, error) {
	return t.engine.HandleInbound(ctx, in)
}

// SessionStatus returns a read-only session clone for operator tooling.
func (t *Threadline) SessionStatus(ctx context.Context, sessionID string) (*core.Session, error) {
	return t.engine.SessionStatus(ctx, sessionID)
}

// Session returns the current session for an external thread.
func (t *Threadline) Session(ctx context.Context, threadID string) (*core.Session, error) {
	return t.store.GetByThread(ctx, threadID)
}

// AuditTrail returns the recorded turn results for a session, oldest first.
func (t *Threadline) AuditTrail(ctx context.Context, sessionID string) ([]*core.TurnResult, error) {
	return t.engine.AuditTrail(ctx, sessionID)
}

// CloseSession terminates a session explicitly.
func (t *Threadline) CloseSession(ctx context.Context, sessionID string) error {
	return t.engine.CloseSession(ctx, sessionID)
}

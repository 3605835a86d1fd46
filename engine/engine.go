package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/threadline-ai/threadline/core"
	"github.com/threadline-ai/threadline/logging"
	"github.com/threadline-ai/threadline/router"
	"github.com/threadline-ai/threadline/session"
)

// Router selects the agent sequence for a turn. The second return value is
// false on a classification miss.
type Router interface {
	Route(snapshot *core.Session, inbound core.Message) (router.Plan, bool)
}

// Runner executes a routed agent sequence; the pipeline package provides the
// implementation.
type Runner interface {
	Run(ctx context.Context, turnID string, agents []string, snapshot *core.Session, inbound core.Message) *core.TurnResult
}

// AgentReplySender identifies engine-authored messages in session history.
const AgentReplySender = "agent"

// maxCommitRetries bounds re-execution after optimistic concurrency
// conflicts. Conflicts are rare: the lease already serializes writers within
// a process, so a conflict means an external writer raced us.
const maxCommitRetries = 3

// Options configure an Engine.
type Options struct {
	// QueueSize bounds how many turns may wait per session behind the
	// active one.
	QueueSize int
	Logger    logging.Logger
	Recorder  Recorder
	Audit     core.AuditStore
}

// Engine orchestrates the full turn sequence. See the package documentation
// for the step-by-step contract.
type Engine struct {
	ledger   core.DedupLedger
	sessions *session.Manager
	router   Router
	runner   Runner
	audit    core.AuditStore
	recorder Recorder
	logger   logging.Logger
	gate     *turnGate
	hooks    *hookSet
}

// New constructs an Engine over its collaborators.
func New(ledger core.DedupLedger, sessions *session.Manager, rt Router, runner Runner, optFns ...func(o *Options)) *Engine {
	opts := Options{
		QueueSize: 16,
		Logger:    logging.NoOpLogger{},
		Recorder:  NopRecorder{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Recorder == nil {
		opts.Recorder = NopRecorder{}
	}
	return &Engine{
		ledger:   ledger,
		sessions: sessions,
		router:   rt,
		runner:   runner,
		audit:    opts.Audit,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		gate:     newTurnGate(opts.QueueSize),
		hooks:    newHookSet(),
	}
}

// OnHook registers a lifecycle hook.
func (e *Engine) OnHook(t HookType, hook Hook) { e.hooks.add(t, hook) }

// HandleInbound processes one inbound message end to end and returns the
// reply to deliver. Duplicate messages return core.ErrDuplicate with no
// side effects; queue overflow returns core.ErrQueueFull. A turn that fails
// before committing rolls back its ledger admission, so the transport may
// redeliver the same message id and have it processed.
func (e *Engine) HandleInbound(ctx context.Context, in core.Inbound) (*core.OutboundReply, error) {
	if err := ValidateInbound(in); err != nil {
		return nil, err
	}

	seenAt := in.Timestamp
	if seenAt.IsZero() {
		seenAt = time.Now().UTC()
	}
	if err := e.ledger.Admit(ctx, in.MessageID, seenAt); err != nil {
		if errors.Is(err, core.ErrDuplicate) {
			e.recorder.DuplicateRejected()
			e.logger.Debug("duplicate rejected message_id=%s thread_id=%s", in.MessageID, in.ExternalThreadID)
			return nil, core.ErrDuplicate
		}
		// Ledger unreachable: fail closed rather than risk double
		// processing on redelivery.
		return nil, fmt.Errorf("dedup admit: %w", err)
	}

	// A session can reach a terminal state between resolve and checkout;
	// one re-resolve picks up the fresh session for the thread.
	for attempt := 0; ; attempt++ {
		result, err := e.runGatedTurn(ctx, in)
		if err != nil {
			if errors.Is(err, core.ErrSessionClosed) && attempt == 0 {
				continue
			}
			// The turn will never commit: roll back the admission so a
			// redelivery of the same id is processed, not dropped.
			e.forget(ctx, in.MessageID)
			return nil, err
		}
		return &core.OutboundReply{ThreadID: in.ExternalThreadID, Body: result.Reply}, nil
	}
}

// forget rolls back a ledger admission. It runs detached from the caller's
// context, which is often already cancelled when a rollback is needed.
func (e *Engine) forget(ctx context.Context, messageID string) {
	if err := e.ledger.Forget(context.WithoutCancel(ctx), messageID); err != nil {
		e.logger.Warn("ledger rollback failed message_id=%s: %v", messageID, err)
	}
}

// runGatedTurn resolves the session, enters its FIFO gate and processes one
// turn under it.
func (e *Engine) runGatedTurn(ctx context.Context, in core.Inbound) (*core.TurnResult, error) {
	sess, err := e.sessions.ResolveOrCreate(ctx, in.ExternalThreadID)
	if err != nil {
		return nil, err
	}

	if err := e.gate.Enter(ctx, sess.ID); err != nil {
		return nil, err
	}
	defer func() {
		e.gate.Leave(sess.ID)
		e.recorder.QueueDepth(sess.ID, e.gate.Depth(sess.ID))
	}()
	e.recorder.QueueDepth(sess.ID, e.gate.Depth(sess.ID))

	if err := e.hooks.fire(HookContext{Type: HookBeforeTurn, SessionID: sess.ID, Inbound: in}); err != nil {
		return nil, err
	}

	result, err := e.processTurn(ctx, sess.ID, in)
	if err != nil {
		e.fireObserver(HookContext{Type: HookOnError, SessionID: sess.ID, Inbound: in, Err: err})
		return nil, err
	}

	e.finishTurn(ctx, sess.ID, in, result)
	return result, nil
}

// processTurn runs checkout, routing, execution and commit, retrying the
// whole sequence on version conflicts so the pipeline always sees a fresh
// snapshot.
func (e *Engine) processTurn(ctx context.Context, sessionID string, in core.Inbound) (*core.TurnResult, error) {
	started := time.Now()
	for attempt := 0; ; attempt++ {
		snapshot, lease, err := e.sessions.Checkout(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("checkout session %s: %w", sessionID, err)
		}

		inbound := in.Message(sessionID)
		turnID := core.NewID()

		plan, matched := e.router.Route(snapshot, inbound)
		if !matched {
			e.recorder.RoutingMiss()
		}
		e.logger.Debug("turn routed turn_id=%s intent=%s agents=%v", turnID, plan.Intent, plan.Agents)

		result := e.runner.Run(ctx, turnID, plan.Agents, snapshot, inbound)
		for _, step := range result.Steps {
			e.recorder.StepObserved(step.AgentName, step.Outcome, step.FinishedAt.Sub(step.StartedAt))
		}

		patch := e.commitPatch(snapshot, inbound, result)
		version, err := e.sessions.Commit(ctx, lease, patch)
		if err != nil {
			if errors.Is(err, core.ErrConflict) && attempt < maxCommitRetries {
				e.recorder.CommitConflict()
				e.logger.Warn("commit conflict, retrying turn session_id=%s attempt=%d", sessionID, attempt+1)
				continue
			}
			return nil, fmt.Errorf("commit turn %s: %w", turnID, err)
		}

		newStatus := snapshot.Status
		if patch.Status != nil && snapshot.Status.CanTransition(*patch.Status) {
			newStatus = *patch.Status
			e.fireObserver(HookContext{Type: HookOnStateChange, SessionID: sessionID, TurnID: turnID, Status: newStatus})
		}

		e.recorder.TurnProcessed(result.Outcome, time.Since(started))
		e.logCommit(sessionID, turnID, result, time.Since(started), version, newStatus)
		return result, nil
	}
}

// logCommit emits the commit record. The built-in EngineLogger gets
// structured per-step and per-turn records scoped to the session and turn;
// any other Logger gets a single line.
func (e *Engine) logCommit(sessionID, turnID string, result *core.TurnResult, dur time.Duration, version uint64, status core.SessionStatus) {
	el, ok := e.logger.(*logging.EngineLogger)
	if !ok {
		e.logger.Info("turn committed turn_id=%s session_id=%s outcome=%s version=%d status=%s",
			turnID, sessionID, result.Outcome, version, status)
		return
	}
	tl := el.WithSession(sessionID, turnID)
	for _, step := range result.Steps {
		var stepErr error
		if step.Error != "" {
			stepErr = errors.New(step.Error)
		}
		tl.LogAgentStep(step.AgentName, step.Attempts, step.FinishedAt.Sub(step.StartedAt), string(step.Outcome), stepErr)
	}
	tl.LogTurn(len(result.Steps), dur, string(result.Outcome), version)
}

// commitPatch assembles the full mutation for one turn: the pipeline's
// staged patch, both messages, activity touch and the resulting status.
func (e *Engine) commitPatch(snapshot *core.Session, inbound core.Message, result *core.TurnResult) core.ContextPatch {
	patch := result.Patch
	patch.AddMessage(inbound)
	if result.Reply != "" {
		patch.AddMessage(core.Message{
			ID:             core.NewID(),
			ConversationID: snapshot.ID,
			Sender:         AgentReplySender,
			Body:           result.Reply,
			ReceivedAt:     time.Now().UTC(),
			Direction:      core.DirectionOutbound,
		})
	}
	patch.Touch = true

	switch {
	case result.Signal == core.SignalCloseSession:
		closed := core.SessionClosed
		patch.Status = &closed
	case snapshot.Status == core.SessionIdle:
		// Any accepted turn reactivates an idle session.
		active := core.SessionActive
		patch.Status = &active
	}
	return patch
}

// finishTurn records the audit trail and fires the after-turn hook. Both are
// observability concerns: failures are logged, never surfaced to the caller.
func (e *Engine) finishTurn(ctx context.Context, sessionID string, in core.Inbound, result *core.TurnResult) {
	if e.audit != nil {
		if err := e.audit.Record(ctx, sessionID, result); err != nil {
			e.logger.Warn("audit record failed turn_id=%s: %v", result.TurnID, err)
		}
	}
	e.fireObserver(HookContext{Type: HookAfterTurn, SessionID: sessionID, TurnID: result.TurnID, Inbound: in, Result: result})
}

// fireObserver runs observer-only hooks; their errors are logged, not
// propagated.
func (e *Engine) fireObserver(hc HookContext) {
	if err := e.hooks.fire(hc); err != nil {
		e.logger.Warn("hook failed type=%s session_id=%s: %v", hc.Type, hc.SessionID, err)
	}
}

// SessionStatus returns a read-only session clone for the operator surface.
func (e *Engine) SessionStatus(ctx context.Context, sessionID string) (*core.Session, error) {
	return e.sessions.Status(ctx, sessionID)
}

// AuditTrail returns the recorded turn results for a session, oldest first.
func (e *Engine) AuditTrail(ctx context.Context, sessionID string) ([]*core.TurnResult, error) {
	if e.audit == nil {
		return nil, nil
	}
	return e.audit.Turns(ctx, sessionID)
}

// CloseSession terminates a session explicitly, e.g. from an operator tool.
func (e *Engine) CloseSession(ctx context.Context, sessionID string) error {
	return e.sessions.Close(ctx, sessionID)
}

package core

import (
	"context"
	"time"

	"github.com/threadline-ai/threadline/logging"
)

// ControlSignal is an orchestration directive emitted by an agent step. A
// non-empty signal short-circuits the remaining agents in the sequence.
type ControlSignal string

const (
	// SignalNone means the pipeline continues normally.
	SignalNone ControlSignal = ""
	// SignalEscalate hands the conversation to human support; no further
	// automated agents run this turn.
	SignalEscalate ControlSignal = "escalate"
	// SignalCloseSession terminates the session after the turn commits.
	SignalCloseSession ControlSignal = "close_session"
)

// StepOutcome records how a single agent invocation ended.
type StepOutcome string

const (
	// StepSucceeded is a clean first-attempt success.
	StepSucceeded StepOutcome = "success"
	// StepRetried is a success that needed at least one retry.
	StepRetried StepOutcome = "retried"
	// StepFailed is a step that exhausted its retry budget or hit a
	// non-transient error.
	StepFailed StepOutcome = "failed"
	// StepSkipped is a step never invoked because an earlier step
	// short-circuited or aborted the turn.
	StepSkipped StepOutcome = "skipped"
)

// AgentStep is the audit record of one agent invocation within a turn.
type AgentStep struct {
	TurnID     string      `json:"turn_id"`
	AgentName  string      `json:"agent_name"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Attempts   int         `json:"attempts"`
	Outcome    StepOutcome `json:"outcome"`
	Error      string      `json:"error,omitempty"`
}

// StepOutput is what an agent hands back to the executor: an optional reply
// fragment, an additive context patch and an optional control signal.
type StepOutput struct {
	ReplyFragment string
	Patch         ContextPatch
	Signal        ControlSignal
}

// TurnOutcome classifies the whole turn.
type TurnOutcome string

const (
	// TurnSucceeded means every routed agent produced output.
	TurnSucceeded TurnOutcome = "success"
	// TurnDegraded means at least one agent was skipped or substituted but a
	// usable reply was still produced.
	TurnDegraded TurnOutcome = "degraded"
	// TurnFailed means the reply is the deterministic fallback; the turn is
	// still committed so history stays accurate.
	TurnFailed TurnOutcome = "failed"
)

// TurnResult is the executor's aggregate output for one inbound message.
type TurnResult struct {
	TurnID  string        `json:"turn_id"`
	Reply   string        `json:"reply"`
	Patch   ContextPatch  `json:"patch"`
	Steps   []AgentStep   `json:"steps"`
	Outcome TurnOutcome   `json:"outcome"`
	Signal  ControlSignal `json:"signal,omitempty"`
}

// TurnContext carries everything an agent may read while processing a turn:
// the ambient cancellation context, a session snapshot, the inbound message
// and the facts and reply fragments staged by earlier steps in the sequence.
// Agents never mutate the session directly; they return a patch instead.
type TurnContext struct {
	Context context.Context
	TurnID  string
	Session *Session
	Inbound Message

	staged    ContextPatch
	fragments []string

	logger logging.Logger
}

// NewTurnContext builds a context for one turn over a session snapshot.
func NewTurnContext(ctx context.Context, turnID string, snapshot *Session, inbound Message, logger logging.Logger) *TurnContext {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &TurnContext{
		Context: ctx,
		TurnID:  turnID,
		Session: snapshot,
		Inbound: inbound,
		logger:  logger,
	}
}

// Fact returns a staged value from an earlier step if present, else the
// persisted session value.
func (tc *TurnContext) Fact(key string) (Fact, bool) {
	if f, ok := tc.staged.Facts[key]; ok {
		return f, true
	}
	if tc.Session != nil {
		return tc.Session.GetFact(key)
	}
	return Fact{}, false
}

// FactValue returns only the value string for key, or "".
func (tc *TurnContext) FactValue(key string) string {
	f, _ := tc.Fact(key)
	return f.Value
}

// Fragments returns the reply fragments produced by earlier steps, in order.
func (tc *TurnContext) Fragments() []string {
	out := make([]string, len(tc.fragments))
	copy(out, tc.fragments)
	return out
}

// Absorb stages a completed step's output so subsequent sequential steps can
// observe it. Called by the executor, not by agents.
func (tc *TurnContext) Absorb(out *StepOutput) {
	if out == nil {
		return
	}
	tc.staged.Merge(out.Patch)
	if out.ReplyFragment != "" {
		tc.fragments = append(tc.fragments, out.ReplyFragment)
	}
}

// StagedPatch returns a copy of everything absorbed so far; the executor
// uses it as the turn's final context patch.
func (tc *TurnContext) StagedPatch() ContextPatch {
	var p ContextPatch
	p.Merge(tc.staged)
	return p
}

// Clone returns an isolated copy sharing the session snapshot but with its
// own staged buffers, used for concurrent independent steps.
func (tc *TurnContext) Clone() *TurnContext {
	c := &TurnContext{
		Context: tc.Context,
		TurnID:  tc.TurnID,
		Session: tc.Session,
		Inbound: tc.Inbound,
		logger:  tc.logger,
	}
	c.staged.Merge(tc.staged)
	c.fragments = append(c.fragments, tc.fragments...)
	return c
}

// Logger returns the turn-scoped logger.
func (tc *TurnContext) Logger() logging.Logger { return tc.logger }

// Done proxies the ambient context's cancellation channel.
func (tc *TurnContext) Done() <-chan struct{} { return tc.Context.Done() }

// Err proxies the ambient context's cancellation error.
func (tc *TurnContext) Err() error { return tc.Context.Err() }

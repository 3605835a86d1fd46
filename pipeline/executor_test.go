package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline-ai/threadline/core"
	"github.com/threadline-ai/threadline/internal/testutil"
	"github.com/threadline-ai/threadline/model"
)

func newTestExecutor(t *testing.T, reg *Registry) *Executor {
	t.Helper()
	e := NewExecutor(reg, func(o *ExecutorOptions) {
		o.DefaultTimeout = time.Second
		o.DefaultRetry = RetryPolicy{MaxRetries: 0}
	})
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

func testSnapshot() *core.Session {
	return testutil.NewSessionBuilder("sess-1").Thread("thread-1").Build()
}

func testInbound() core.Message {
	return core.Message{ID: "msg-1", ConversationID: "sess-1", Body: "hello", Direction: core.DirectionInbound}
}

func TestExecutor_SequentialSuccess(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(testutil.NewScriptedAgent("first", func(*core.TurnContext) (*core.StepOutput, error) {
		out := &core.StepOutput{ReplyFragment: "part one"}
		out.Patch.SetFact("intent", "technical", false)
		return out, nil
	}), StepConfig{}))
	require.NoError(t, reg.Register(testutil.NewScriptedAgent("second", func(tc *core.TurnContext) (*core.StepOutput, error) {
		// Later steps observe facts staged by earlier steps.
		assert.Equal(t, "technical", tc.FactValue("intent"))
		return &core.StepOutput{ReplyFragment: "part two"}, nil
	}), StepConfig{}))

	e := newTestExecutor(t, reg)
	res := e.Run(context.Background(), "turn-1", []string{"first", "second"}, testSnapshot(), testInbound())

	assert.Equal(t, core.TurnSucceeded, res.Outcome)
	assert.Equal(t, "part one\n\npart two", res.Reply)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, core.StepSucceeded, res.Steps[0].Outcome)
	assert.Equal(t, core.StepSucceeded, res.Steps[1].Outcome)
	assert.Equal(t, "technical", res.Patch.Facts["intent"].Value)
}

func TestExecutor_SkipAndContinue(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(testutil.FailingAgent("broken", errors.New("boom")), StepConfig{Policy: PolicySkip}))
	require.NoError(t, reg.Register(testutil.ReplyAgent("healthy", "still here"), StepConfig{}))

	e := newTestExecutor(t, reg)
	res := e.Run(context.Background(), "turn-1", []string{"broken", "healthy"}, testSnapshot(), testInbound())

	assert.Equal(t, core.TurnDegraded, res.Outcome)
	assert.Equal(t, "still here", res.Reply)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, core.StepFailed, res.Steps[0].Outcome)
	assert.Equal(t, core.StepSucceeded, res.Steps[1].Outcome)
}

func TestExecutor_FallbackAfterRetryBudget(t *testing.T) {
	attempts := 0
	flaky := testutil.NewScriptedAgent("support_agent", func(*core.TurnContext) (*core.StepOutput, error) {
		attempts++
		return nil, model.NewError(model.KindTimeout, errors.New("backend timeout"))
	})

	classifier := testutil.NewScriptedAgent("intent_agent", func(*core.TurnContext) (*core.StepOutput, error) {
		out := &core.StepOutput{ReplyFragment: "classified"}
		out.Patch.SetFact("intent", "technical", false)
		return out, nil
	})

	reg := NewRegistry()
	require.NoError(t, reg.Register(classifier, StepConfig{}))
	require.NoError(t, reg.Register(flaky, StepConfig{
		Policy:        PolicyFallback,
		Retry:         &RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond, BackoffFactor: 2, MaxBackoff: time.Millisecond},
		FallbackReply: "We hit a snag, a human will follow up shortly.",
	}))
	require.NoError(t, reg.Register(testutil.ReplyAgent("handoff_agent", "never runs"), StepConfig{}))

	e := newTestExecutor(t, reg)
	res := e.Run(context.Background(), "turn-1",
		[]string{"intent_agent", "support_agent", "handoff_agent"}, testSnapshot(), testInbound())

	// Initial attempt plus the full retry budget.
	assert.Equal(t, 3, attempts)
	assert.Equal(t, core.TurnFailed, res.Outcome)
	assert.Equal(t, "We hit a snag, a human will follow up shortly.", res.Reply)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, core.StepSucceeded, res.Steps[0].Outcome)
	assert.Equal(t, core.StepFailed, res.Steps[1].Outcome)
	assert.Equal(t, 3, res.Steps[1].Attempts)
	assert.Equal(t, core.StepSkipped, res.Steps[2].Outcome)
	// The patch from the successful step is still committed with the failed turn.
	assert.False(t, res.Patch.IsEmpty())
}

func TestExecutor_AbortTurn(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(testutil.FailingAgent("gate", errors.New("validation rejected")), StepConfig{Policy: PolicyAbort}))
	require.NoError(t, reg.Register(testutil.ReplyAgent("later", "unreachable"), StepConfig{}))

	e := newTestExecutor(t, reg)
	res := e.Run(context.Background(), "turn-1", []string{"gate", "later"}, testSnapshot(), testInbound())

	assert.Equal(t, core.TurnFailed, res.Outcome)
	assert.Equal(t, e.fallbackReply, res.Reply)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, core.StepFailed, res.Steps[0].Outcome)
	assert.Equal(t, core.StepSkipped, res.Steps[1].Outcome)
}

func TestExecutor_NoTransientRetryForPermanentError(t *testing.T) {
	attempts := 0
	bad := testutil.NewScriptedAgent("bad", func(*core.TurnContext) (*core.StepOutput, error) {
		attempts++
		return nil, model.NewError(model.KindInvalidResponse, errors.New("garbled output"))
	})
	reg := NewRegistry()
	require.NoError(t, reg.Register(bad, StepConfig{Retry: &RetryPolicy{MaxRetries: 5}}))

	e := newTestExecutor(t, reg)
	res := e.Run(context.Background(), "turn-1", []string{"bad"}, testSnapshot(), testInbound())

	assert.Equal(t, 1, attempts)
	assert.Equal(t, core.TurnFailed, res.Outcome)
}

func TestExecutor_RetriedSuccess(t *testing.T) {
	attempts := 0
	flaky := testutil.NewScriptedAgent("flaky", func(*core.TurnContext) (*core.StepOutput, error) {
		attempts++
		if attempts == 1 {
			return nil, model.NewError(model.KindRateLimited, errors.New("429"))
		}
		return &core.StepOutput{ReplyFragment: "recovered"}, nil
	})
	reg := NewRegistry()
	require.NoError(t, reg.Register(flaky, StepConfig{Retry: &RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond, BackoffFactor: 2, MaxBackoff: time.Millisecond}}))

	e := newTestExecutor(t, reg)
	res := e.Run(context.Background(), "turn-1", []string{"flaky"}, testSnapshot(), testInbound())

	assert.Equal(t, core.TurnSucceeded, res.Outcome)
	assert.Equal(t, "recovered", res.Reply)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, core.StepRetried, res.Steps[0].Outcome)
	assert.Equal(t, 2, res.Steps[0].Attempts)
}

func TestExecutor_ControlSignalShortCircuits(t *testing.T) {
	escalator := testutil.NewScriptedAgent("handoff_agent", func(*core.TurnContext) (*core.StepOutput, error) {
		out := &core.StepOutput{ReplyFragment: "Connecting you with our team."}
		out.Patch.SetFact("escalated", "true", true)
		out.Signal = core.SignalEscalate
		return out, nil
	})
	reg := NewRegistry()
	require.NoError(t, reg.Register(escalator, StepConfig{}))
	require.NoError(t, reg.Register(testutil.ReplyAgent("support_agent", "unreachable"), StepConfig{}))

	e := newTestExecutor(t, reg)
	res := e.Run(context.Background(), "turn-1", []string{"handoff_agent", "support_agent"}, testSnapshot(), testInbound())

	assert.Equal(t, core.SignalEscalate, res.Signal)
	assert.Equal(t, core.TurnSucceeded, res.Outcome)
	assert.Equal(t, "Connecting you with our team.", res.Reply)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, core.StepSucceeded, res.Steps[0].Outcome)
	assert.Equal(t, core.StepSkipped, res.Steps[1].Outcome)
	assert.Equal(t, "true", res.Patch.Facts["escalated"].Value)
}

func TestExecutor_IndependentStepsMergeInRouteOrder(t *testing.T) {
	first := testutil.NewScriptedAgent("sentiment", func(*core.TurnContext) (*core.StepOutput, error) {
		out := &core.StepOutput{ReplyFragment: "alpha"}
		out.Patch.SetFact("shared", "from-sentiment", false)
		out.Patch.SetFact("sentiment", "negative", false)
		return out, nil
	})
	second := testutil.NewScriptedAgent("language", func(*core.TurnContext) (*core.StepOutput, error) {
		out := &core.StepOutput{ReplyFragment: "beta"}
		out.Patch.SetFact("shared", "from-language", false)
		out.Patch.SetFact("language", "en", false)
		return out, nil
	})
	reg := NewRegistry()
	require.NoError(t, reg.Register(first, StepConfig{Independent: true}))
	require.NoError(t, reg.Register(second, StepConfig{Independent: true}))

	e := newTestExecutor(t, reg)
	res := e.Run(context.Background(), "turn-1", []string{"sentiment", "language"}, testSnapshot(), testInbound())

	assert.Equal(t, core.TurnSucceeded, res.Outcome)
	// Route order wins regardless of completion order.
	assert.Equal(t, "alpha\n\nbeta", res.Reply)
	assert.Equal(t, "from-language", res.Patch.Facts["shared"].Value)
	assert.Equal(t, "negative", res.Patch.Facts["sentiment"].Value)
	assert.Equal(t, "en", res.Patch.Facts["language"].Value)
}

func TestExecutor_MidBatchStopKeepsPeerRecords(t *testing.T) {
	escalator := testutil.NewScriptedAgent("handoff_agent", func(*core.TurnContext) (*core.StepOutput, error) {
		out := &core.StepOutput{ReplyFragment: "Connecting you with our team."}
		out.Signal = core.SignalEscalate
		return out, nil
	})
	peer := testutil.NewScriptedAgent("sentiment", func(*core.TurnContext) (*core.StepOutput, error) {
		out := &core.StepOutput{ReplyFragment: "discarded analysis"}
		out.Patch.SetFact("sentiment", "negative", false)
		return out, nil
	})
	reg := NewRegistry()
	require.NoError(t, reg.Register(escalator, StepConfig{Independent: true}))
	require.NoError(t, reg.Register(peer, StepConfig{Independent: true}))
	require.NoError(t, reg.Register(testutil.ReplyAgent("support_agent", "unreachable"), StepConfig{}))

	e := newTestExecutor(t, reg)
	res := e.Run(context.Background(), "turn-1",
		[]string{"handoff_agent", "sentiment", "support_agent"}, testSnapshot(), testInbound())

	// The signal stops the turn before the peer's output merges, but the peer
	// did run: its record reports what actually happened.
	assert.Equal(t, core.SignalEscalate, res.Signal)
	assert.Equal(t, "Connecting you with our team.", res.Reply)
	assert.NotContains(t, res.Patch.Facts, "sentiment")
	require.Len(t, res.Steps, 3)
	assert.Equal(t, core.StepSucceeded, res.Steps[1].Outcome)
	assert.Equal(t, 1, res.Steps[1].Attempts)
	assert.False(t, res.Steps[1].StartedAt.IsZero())
	assert.False(t, res.Steps[1].FinishedAt.IsZero())
	// Steps past the batch never ran and stay skipped.
	assert.Equal(t, core.StepSkipped, res.Steps[2].Outcome)
	assert.True(t, res.Steps[2].StartedAt.IsZero())
}

func TestExecutor_UnknownAgentFailsStep(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(testutil.ReplyAgent("known", "present"), StepConfig{}))

	e := newTestExecutor(t, reg)
	res := e.Run(context.Background(), "turn-1", []string{"ghost", "known"}, testSnapshot(), testInbound())

	assert.Equal(t, core.TurnDegraded, res.Outcome)
	assert.Equal(t, "present", res.Reply)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, core.StepFailed, res.Steps[0].Outcome)
	assert.Contains(t, res.Steps[0].Error, "not registered")
}

func TestExecutor_AllStepsFailedUsesFallback(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(testutil.FailingAgent("a", errors.New("down")), StepConfig{Policy: PolicySkip}))
	require.NoError(t, reg.Register(testutil.FailingAgent("b", errors.New("also down")), StepConfig{Policy: PolicySkip}))

	e := newTestExecutor(t, reg)
	res := e.Run(context.Background(), "turn-1", []string{"a", "b"}, testSnapshot(), testInbound())

	assert.Equal(t, core.TurnFailed, res.Outcome)
	assert.Equal(t, e.fallbackReply, res.Reply)
}

func TestExecutor_AttemptTimeout(t *testing.T) {
	slow := testutil.NewScriptedAgent("slow", func(tc *core.TurnContext) (*core.StepOutput, error) {
		select {
		case <-tc.Done():
			return nil, tc.Err()
		case <-time.After(time.Second):
			return &core.StepOutput{ReplyFragment: "too late"}, nil
		}
	})
	reg := NewRegistry()
	require.NoError(t, reg.Register(slow, StepConfig{Timeout: 10 * time.Millisecond}))

	e := newTestExecutor(t, reg)
	res := e.Run(context.Background(), "turn-1", []string{"slow"}, testSnapshot(), testInbound())

	assert.Equal(t, core.TurnFailed, res.Outcome)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, core.StepFailed, res.Steps[0].Outcome)
}

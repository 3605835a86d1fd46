package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/threadline-ai/threadline/core"
	"github.com/threadline-ai/threadline/logging"
)

// Executor runs a routed agent sequence against a session snapshot and
// assembles the turn result. It owns per-step timeouts, retries and failure
// policies; agents themselves stay free of resilience logic.
type Executor struct {
	registry *Registry

	defaultTimeout time.Duration
	defaultRetry   RetryPolicy
	fallbackReply  string
	logger         logging.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// ExecutorOptions configure an Executor.
type ExecutorOptions struct {
	// DefaultTimeout bounds a single invocation attempt when the step's own
	// config leaves it zero.
	DefaultTimeout time.Duration
	// DefaultRetry applies to steps without their own retry policy.
	DefaultRetry RetryPolicy
	// FallbackReply is the deterministic reply used when a turn cannot
	// produce one.
	FallbackReply string
	// Logger receives step and turn telemetry.
	Logger logging.Logger
}

// NewExecutor constructs an Executor over the given registry.
func NewExecutor(registry *Registry, optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{
		DefaultTimeout: 30 * time.Second,
		DefaultRetry:   DefaultRetryPolicy(),
		FallbackReply:  "I apologize, but I'm experiencing technical difficulties. Please try again or contact human support.",
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Executor{
		registry:       registry,
		defaultTimeout: opts.DefaultTimeout,
		defaultRetry:   opts.DefaultRetry,
		fallbackReply:  opts.FallbackReply,
		logger:         opts.Logger,
		sleep:          sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// resolved pairs a routed agent name with its registration, if any.
type resolved struct {
	name string
	reg  Registration
	ok   bool
}

// Run executes the routed agent names in order over a snapshot of the
// session. Consecutive steps marked Independent run concurrently on cloned
// turn contexts; their outputs merge back in route order. A control signal
// from any step skips the remaining steps. The returned result always
// carries the accumulated context patch, including on failed turns, so the
// caller can commit an accurate history.
func (e *Executor) Run(ctx context.Context, turnID string, agents []string, snapshot *core.Session, inbound core.Message) *core.TurnResult {
	tc := core.NewTurnContext(ctx, turnID, snapshot, inbound, e.logger)
	result := &core.TurnResult{TurnID: turnID}

	steps := make([]resolved, len(agents))
	for i, name := range agents {
		reg, ok := e.registry.Get(name)
		steps[i] = resolved{name: name, reg: reg, ok: ok}
	}

	var (
		degraded  bool
		succeeded int
		halted    bool // abort or fallback ended the turn early
		fallback  string
	)

	i := 0
	for i < len(steps) {
		batch := e.batchEnd(steps, i)
		outs := e.runBatch(tc, steps[i:batch])

		// Every batch member ran, so every record is kept even when a failure
		// policy or control signal ends the turn mid-batch. Only outputs past
		// the stopping step are discarded.
		for _, so := range outs {
			result.Steps = append(result.Steps, so.record)
		}

		stop := false
		for j, so := range outs {
			step := steps[i+j]
			if so.record.Outcome == core.StepFailed {
				policy := PolicySkip
				if step.ok && step.reg.Config.Policy != "" {
					policy = step.reg.Config.Policy
				}
				switch policy {
				case PolicyAbort:
					halted = true
					stop = true
				case PolicyFallback:
					halted = true
					stop = true
					fallback = step.reg.Config.FallbackReply
				default:
					degraded = true
				}
				if stop {
					break
				}
				continue
			}

			succeeded++
			tc.Absorb(so.output)
			if so.output != nil && so.output.Signal != core.SignalNone {
				result.Signal = so.output.Signal
				stop = true
				break
			}
		}
		i = batch
		if stop {
			break
		}
	}

	// Anything not reached is recorded as skipped.
	for _, s := range steps[len(result.Steps):] {
		result.Steps = append(result.Steps, core.AgentStep{
			TurnID:    turnID,
			AgentName: s.name,
			Outcome:   core.StepSkipped,
		})
	}

	result.Patch = tc.StagedPatch()
	result.Reply = strings.Join(tc.Fragments(), "\n\n")

	switch {
	case halted, succeeded == 0:
		if fallback == "" {
			fallback = e.fallbackReply
		}
		result.Reply = fallback
		result.Outcome = core.TurnFailed
	case degraded:
		result.Outcome = core.TurnDegraded
	default:
		result.Outcome = core.TurnSucceeded
	}
	return result
}

// batchEnd returns the exclusive end index of the batch starting at i: a run
// of two or more consecutive Independent steps, or a single step otherwise.
func (e *Executor) batchEnd(steps []resolved, i int) int {
	j := i
	for j < len(steps) && steps[j].ok && steps[j].reg.Config.Independent {
		j++
	}
	if j-i >= 2 {
		return j
	}
	return i + 1
}

type stepOut struct {
	record core.AgentStep
	output *core.StepOutput
}

// runBatch invokes the given steps, concurrently when there is more than
// one. Each concurrent step sees a clone of the turn context so staged state
// stays isolated until the merge.
func (e *Executor) runBatch(tc *core.TurnContext, batch []resolved) []stepOut {
	outs := make([]stepOut, len(batch))
	if len(batch) == 1 {
		outs[0] = e.runStep(tc, batch[0])
		return outs
	}
	var wg sync.WaitGroup
	for idx, s := range batch {
		wg.Add(1)
		go func(idx int, s resolved) {
			defer wg.Done()
			outs[idx] = e.runStep(tc.Clone(), s)
		}(idx, s)
	}
	wg.Wait()
	return outs
}

// runStep invokes one agent with its timeout and retry policy and returns
// the audit record plus output.
func (e *Executor) runStep(tc *core.TurnContext, s resolved) stepOut {
	record := core.AgentStep{
		TurnID:    tc.TurnID,
		AgentName: s.name,
		StartedAt: time.Now(),
	}
	if !s.ok {
		record.FinishedAt = record.StartedAt
		record.Outcome = core.StepFailed
		record.Error = fmt.Sprintf("agent %q not registered: %v", s.name, core.ErrUnknownAgent)
		return stepOut{record: record}
	}

	timeout := s.reg.Config.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	retry := e.defaultRetry
	if s.reg.Config.Retry != nil {
		retry = *s.reg.Config.Retry
	}

	var (
		out *core.StepOutput
		err error
	)
	for attempt := 1; ; attempt++ {
		record.Attempts = attempt
		out, err = e.invoke(tc, s.reg.Agent, timeout)
		if err == nil {
			break
		}
		e.logger.Warn("agent step attempt failed",
			"turn_id", tc.TurnID, "agent", s.name, "attempt", attempt, "error", err)
		if attempt > retry.MaxRetries || !Transient(err) {
			break
		}
		if serr := e.sleep(tc.Context, retry.Delay(attempt)); serr != nil {
			err = serr
			break
		}
	}
	record.FinishedAt = time.Now()

	switch {
	case err != nil:
		record.Outcome = core.StepFailed
		record.Error = err.Error()
	case record.Attempts > 1:
		record.Outcome = core.StepRetried
	default:
		record.Outcome = core.StepSucceeded
	}
	return stepOut{record: record, output: out}
}

// invoke runs one attempt under its own deadline without mutating the shared
// turn context.
func (e *Executor) invoke(tc *core.TurnContext, agent core.Agent, timeout time.Duration) (*core.StepOutput, error) {
	actx, cancel := context.WithTimeout(tc.Context, timeout)
	defer cancel()
	atc := tc.Clone()
	atc.Context = actx
	out, err := agent.Invoke(atc)
	if err != nil {
		return nil, err
	}
	// An attempt that ran past its deadline but still returned is treated
	// as timed out so the retry classifier sees it.
	if actx.Err() != nil && tc.Context.Err() == nil {
		return nil, context.DeadlineExceeded
	}
	return out, nil
}

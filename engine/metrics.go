package engine

import (
	"time"

	"github.com/threadline-ai/threadline/core"
)

// Recorder receives counters from the turn path. The metrics package
// provides a Prometheus-backed implementation; the engine itself depends
// only on this interface.
type Recorder interface {
	TurnProcessed(outcome core.TurnOutcome, dur time.Duration)
	StepObserved(agent string, outcome core.StepOutcome, dur time.Duration)
	DuplicateRejected()
	RoutingMiss()
	QueueDepth(sessionID string, depth int)
	CommitConflict()
}

// NopRecorder discards all observations.
type NopRecorder struct{}

// TurnProcessed implements Recorder.
func (NopRecorder) TurnProcessed(core.TurnOutcome, time.Duration) {}

// StepObserved implements Recorder.
func (NopRecorder) StepObserved(string, core.StepOutcome, time.Duration) {}

// DuplicateRejected implements Recorder.
func (NopRecorder) DuplicateRejected() {}

// RoutingMiss implements Recorder.
func (NopRecorder) RoutingMiss() {}

// QueueDepth implements Recorder.
func (NopRecorder) QueueDepth(string, int) {}

// CommitConflict implements Recorder.
func (NopRecorder) CommitConflict() {}

// Package metrics provides Prometheus-based metrics recording for the turn
// processing path and the background sweepers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/threadline-ai/threadline/core"
)

// PrometheusRecorder implements the engine's Recorder interface using
// Prometheus metrics registered with the given registerer.
type PrometheusRecorder struct {
	turnsTotal       *prometheus.CounterVec
	turnDuration     *prometheus.HistogramVec
	stepsTotal       *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	duplicatesTotal  prometheus.Counter
	routingMissTotal prometheus.Counter
	conflictsTotal   prometheus.Counter
	queueDepth       prometheus.Gauge
	sweptTotal       *prometheus.CounterVec
}

// NewPrometheusRecorder registers the metric set with the default registerer.
func NewPrometheusRecorder() *PrometheusRecorder {
	return NewPrometheusRecorderWith(prometheus.DefaultRegisterer)
}

// NewPrometheusRecorderWith registers the metric set with reg; tests pass a
// private registry so metric names never collide.
func NewPrometheusRecorderWith(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadline_turns_total",
				Help: "Total processed turns by outcome",
			},
			[]string{"outcome"},
		),
		turnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "threadline_turn_duration_seconds",
				Help:    "End-to-end turn duration from admission to commit",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		stepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadline_agent_steps_total",
				Help: "Total agent step invocations by agent and outcome",
			},
			[]string{"agent", "outcome"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "threadline_agent_step_duration_seconds",
				Help:    "Duration of agent steps including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent"},
		),
		duplicatesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "threadline_duplicates_rejected_total",
				Help: "Inbound messages rejected by the dedup ledger",
			},
		),
		routingMissTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "threadline_routing_miss_total",
				Help: "Turns that fell back to the default agent sequence",
			},
		),
		conflictsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "threadline_commit_conflicts_total",
				Help: "Optimistic concurrency conflicts during turn commit",
			},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "threadline_turn_queue_depth",
				Help: "Turns currently queued behind active ones, all sessions",
			},
		),
		sweptTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadline_sessions_swept_total",
				Help: "Lifecycle sweeper transitions by kind (idled, expired, pruned)",
			},
			[]string{"kind"},
		),
	}
}

// TurnProcessed implements engine.Recorder.
func (p *PrometheusRecorder) TurnProcessed(outcome core.TurnOutcome, dur time.Duration) {
	p.turnsTotal.WithLabelValues(string(outcome)).Inc()
	p.turnDuration.WithLabelValues(string(outcome)).Observe(dur.Seconds())
}

// StepObserved implements engine.Recorder.
func (p *PrometheusRecorder) StepObserved(agent string, outcome core.StepOutcome, dur time.Duration) {
	p.stepsTotal.WithLabelValues(agent, string(outcome)).Inc()
	if outcome != core.StepSkipped {
		p.stepDuration.WithLabelValues(agent).Observe(dur.Seconds())
	}
}

// DuplicateRejected implements engine.Recorder.
func (p *PrometheusRecorder) DuplicateRejected() { p.duplicatesTotal.Inc() }

// RoutingMiss implements engine.Recorder.
func (p *PrometheusRecorder) RoutingMiss() { p.routingMissTotal.Inc() }

// CommitConflict implements engine.Recorder.
func (p *PrometheusRecorder) CommitConflict() { p.conflictsTotal.Inc() }

// QueueDepth implements engine.Recorder. The gauge tracks the last observed
// depth without a session label: per-session labels would be unbounded
// cardinality.
func (p *PrometheusRecorder) QueueDepth(_ string, depth int) {
	p.queueDepth.Set(float64(depth))
}

// SessionsSwept records lifecycle sweeper activity.
func (p *PrometheusRecorder) SessionsSwept(idled, expired, pruned int) {
	p.sweptTotal.WithLabelValues("idled").Add(float64(idled))
	p.sweptTotal.WithLabelValues("expired").Add(float64(expired))
	p.sweptTotal.WithLabelValues("pruned").Add(float64(pruned))
}

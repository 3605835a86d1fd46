// Package router classifies each inbound turn and selects the ordered agent
// sequence that processes it. Classification is a pure function of the
// message body, recent context and extracted facts; identical inputs always
// yield identical plans. Unclassifiable input degrades to the fallback
// sequence — the router never fails a turn.
package router

import (
	"sort"
	"strings"

	"github.com/threadline-ai/threadline/core"
	"github.com/threadline-ai/threadline/logging"
)

// Agent identifiers the built-in rules route to. They must match names
// registered with the pipeline's agent registry.
const (
	AgentIntent  = "intent_agent"
	AgentSupport = "support_agent"
	AgentHandoff = "handoff_agent"
)

// Plan is the router's output: the ordered agent identifiers for one turn
// and the intent label that produced them.
type Plan struct {
	Intent string
	Agents []string
}

// Rule maps a set of trigger keywords to an intent label and agent sequence.
// Keywords match case-insensitively against the message body.
type Rule struct {
	Intent   string
	Keywords []string
	Agents   []string
	// Priority breaks ties when several rules match; lower wins. Equal
	// priorities fall back to intent name ordering so routing stays
	// deterministic regardless of map iteration.
	Priority int
}

// Options configures the rule router.
type Options struct {
	Rules    []Rule
	Fallback []string
	Logger   logging.Logger
	// OnMiss is invoked with the message id whenever classification misses
	// and the fallback sequence is used. Hook for the metrics recorder.
	OnMiss func(messageID string)
}

// RuleRouter is a deterministic keyword-rule classifier.
type RuleRouter struct {
	rules    []Rule
	fallback []string
	logger   logging.Logger
	onMiss   func(string)
}

// DefaultRules returns the built-in support routing table: escalation-worthy
// intents hand off to a human, everything else runs intent extraction then
// the model-backed support agent.
func DefaultRules() []Rule {
	return []Rule{
		{
			Intent:   "human_request",
			Keywords: []string{"human", "real person", "speak to someone", "representative"},
			Agents:   []string{AgentIntent, AgentHandoff},
			Priority: 0,
		},
		{
			Intent:   "complaint",
			Keywords: []string{"complaint", "unacceptable", "terrible", "furious", "lawsuit"},
			Agents:   []string{AgentIntent, AgentSupport, AgentHandoff},
			Priority: 1,
		},
		{
			Intent:   "billing",
			Keywords: []string{"billing", "invoice", "charge", "refund", "payment"},
			Agents:   []string{AgentIntent, AgentSupport},
			Priority: 2,
		},
		{
			Intent:   "cancellation",
			Keywords: []string{"cancel", "unsubscribe", "close my account"},
			Agents:   []string{AgentIntent, AgentSupport},
			Priority: 2,
		},
		{
			Intent:   "technical",
			Keywords: []string{"error", "bug", "crash", "broken", "not working", "can't log in"},
			Agents:   []string{AgentIntent, AgentSupport},
			Priority: 3,
		},
	}
}

// DefaultFallback is the agent sequence for unclassified turns.
func DefaultFallback() []string { return []string{AgentIntent, AgentSupport} }

// New constructs a RuleRouter with the default rule table unless overridden.
func New(optFns ...func(o *Options)) *RuleRouter {
	opts := Options{
		Rules:    DefaultRules(),
		Fallback: DefaultFallback(),
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	rules := append([]Rule(nil), opts.Rules...)
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].Intent < rules[j].Intent
	})

	return &RuleRouter{
		rules:    rules,
		fallback: opts.Fallback,
		logger:   opts.Logger,
		onMiss:   opts.OnMiss,
	}
}

// Route selects the agent sequence for one inbound message. The second
// return value is false when classification missed and the fallback plan was
// used.
func (r *RuleRouter) Route(snapshot *core.Session, inbound core.Message) (Plan, bool) {
	// A conversation already handed to a human stays with the handoff agent
	// no matter what the new message says.
	if snapshot != nil && snapshot.FactValue(core.FactEscalated) == "true" {
		return Plan{Intent: "escalated", Agents: []string{AgentHandoff}}, true
	}

	body := strings.ToLower(inbound.Body)
	for _, rule := range r.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(body, kw) {
				return Plan{Intent: rule.Intent, Agents: append([]string(nil), rule.Agents...)}, true
			}
		}
	}

	r.logger.Debug("classification miss message_id=%s", inbound.ID)
	if r.onMiss != nil {
		r.onMiss(inbound.ID)
	}
	return Plan{Intent: "general", Agents: append([]string(nil), r.fallback...)}, false
}

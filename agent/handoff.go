package agent

import (
	"fmt"
	"strings"

	"github.com/threadline-ai/threadline/core"
)

// Escalation levels in increasing order of severity.
const (
	EscalationLow    = "low"
	EscalationMedium = "medium"
	EscalationHigh   = "high"
	EscalationUrgent = "urgent"
)

var urgentWords = []string{
	"lawsuit", "legal action", "fraud", "security breach", "data leak", "urgent",
}

// HandoffAgentOptions configure a HandoffAgent.
type HandoffAgentOptions struct {
	// Name registers the agent under a custom identifier.
	Name string
	// HandoffReply is the customer-facing confirmation that a person will
	// take over.
	HandoffReply string
}

// HandoffAgent escalates the conversation to human support. It derives an
// escalation level and priority from the staged classification facts, pins
// the escalated flag so pruning never drops it, and emits the escalate
// signal that stops the rest of the pipeline.
type HandoffAgent struct {
	name         string
	handoffReply string
}

// NewHandoffAgent constructs the escalation agent.
func NewHandoffAgent(optFns ...func(o *HandoffAgentOptions)) *HandoffAgent {
	opts := HandoffAgentOptions{
		Name:         "handoff_agent",
		HandoffReply: "I'm connecting you with a member of our support team who will follow up shortly.",
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &HandoffAgent{name: opts.Name, handoffReply: opts.HandoffReply}
}

// Name implements core.Agent.
func (a *HandoffAgent) Name() string { return a.name }

// Description implements core.Agent.
func (a *HandoffAgent) Description() string {
	return "escalates the conversation to human support"
}

// Invoke stages the escalation facts and signals the pipeline to stop.
// Subsequent turns route straight to this agent until a human clears the
// escalated flag.
func (a *HandoffAgent) Invoke(tc *core.TurnContext) (*core.StepOutput, error) {
	level, priority, reason := a.analyze(tc)

	out := &core.StepOutput{
		ReplyFragment: a.reply(tc, level, reason),
		Signal:        core.SignalEscalate,
	}
	out.Patch.SetFact(core.FactEscalated, "true", true)
	out.Patch.SetFact(core.FactEscalationLevel, level, true)
	out.Patch.SetFact(core.FactEscalationReason, reason, true)
	out.Patch.AddTags("escalation_"+level, fmt.Sprintf("priority_%d", priority))
	return out, nil
}

// analyze maps the staged intent and sentiment onto a level, a 1-10
// priority score and a reason for the human agent picking the case up.
func (a *HandoffAgent) analyze(tc *core.TurnContext) (level string, priority int, reason string) {
	body := strings.ToLower(tc.Inbound.Body)
	intent := tc.FactValue(core.FactIntent)
	negative := tc.FactValue(FactSentiment) == "negative"

	switch {
	case containsAny(body, urgentWords):
		return EscalationUrgent, 9, "message contains urgency or legal-risk indicators"
	case intent == "complaint":
		if negative {
			return EscalationHigh, 8, "customer complaint with negative sentiment"
		}
		return EscalationHigh, 7, "customer complaint"
	case intent == "billing":
		return EscalationHigh, 6, "billing dispute requires account access"
	case intent == "human_request":
		return EscalationMedium, 5, "customer asked for a human agent"
	case negative:
		return EscalationMedium, 5, "negative sentiment detected"
	default:
		return EscalationLow, 3, "conversation requires human follow-up"
	}
}

// reply appends an escalation note to any reply text staged by earlier
// steps; otherwise the handoff confirmation stands alone.
func (a *HandoffAgent) reply(tc *core.TurnContext, level, reason string) string {
	note := fmt.Sprintf("[This case has been escalated to human support. Level: %s. Reason: %s]", level, reason)
	if len(tc.Fragments()) > 0 {
		return note
	}
	return a.handoffReply + "\n\n" + note
}

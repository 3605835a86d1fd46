package core

// Agent is the fixed capability interface every reasoning agent implements.
// Agents are selected by identifier from the router's output — a closed,
// registered set, never runtime type inspection.
//
// Implementations must:
//   - Respect tc.Context cancellation (the executor enforces per-step
//     timeouts through it)
//   - Treat tc.Session as a read-only snapshot
//   - Return all mutations as a patch inside StepOutput
//   - Be safe for concurrent invocations across different sessions.
type Agent interface {
	Name() string
	Description() string
	Invoke(tc *TurnContext) (*StepOutput, error)
}

// Fact keys shared between the built-in agents and the router.
const (
	// FactIntent is the classified intent of the latest inbound message.
	FactIntent = "intent"
	// FactEscalated is set to "true" once a conversation has been handed to
	// human support; the router short-cuts straight to the handoff sequence.
	FactEscalated = "escalated"
	// FactEscalationLevel records the severity assigned by the handoff
	// agent: low, medium, high or urgent.
	FactEscalationLevel = "escalation_level"
	// FactEscalationReason records why the conversation was escalated.
	FactEscalationReason = "escalation_reason"
)

package agent

import (
	"fmt"
	"strings"

	"github.com/threadline-ai/threadline/core"
	"github.com/threadline-ai/threadline/model"
)

// DefaultSystemPrompt frames the support model's role and escalation policy.
const DefaultSystemPrompt = `You are a customer support agent for a technology company. Help customers with their inquiries in a helpful, professional and empathetic manner.

Guidelines:
1. Provide a helpful and accurate response to the customer's latest message.
2. Be confident but honest about your limitations.
3. Keep responses concise; this is a messaging conversation, not email.
4. Never invent order numbers, account details or policies.`

// SupportAgentOptions configure a SupportAgent.
type SupportAgentOptions struct {
	// Name registers the agent under a custom identifier.
	Name string
	// SystemPrompt replaces the default role framing.
	SystemPrompt string
	// HistoryWindow is how many recent session messages are sent as prompt
	// context.
	HistoryWindow int
}

// SupportAgent generates the customer-facing reply by prompting a model
// with the session's recent history. It carries no resilience logic of its
// own: backend failures surface as classified model errors and the executor
// decides whether to retry.
type SupportAgent struct {
	name          string
	backend       model.Model
	systemPrompt  string
	historyWindow int
}

// NewSupportAgent constructs a support agent over the given model backend.
func NewSupportAgent(backend model.Model, optFns ...func(o *SupportAgentOptions)) *SupportAgent {
	opts := SupportAgentOptions{
		Name:          "support_agent",
		SystemPrompt:  DefaultSystemPrompt,
		HistoryWindow: 10,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &SupportAgent{
		name:          opts.Name,
		backend:       backend,
		systemPrompt:  opts.SystemPrompt,
		historyWindow: opts.HistoryWindow,
	}
}

// Name implements core.Agent.
func (a *SupportAgent) Name() string { return a.name }

// Description implements core.Agent.
func (a *SupportAgent) Description() string {
	return "model-backed reply generation over recent conversation history"
}

// Invoke prompts the backend with the staged intent, the recent history and
// the inbound message, and returns the generated text as the reply fragment.
func (a *SupportAgent) Invoke(tc *core.TurnContext) (*core.StepOutput, error) {
	req := model.Request{
		System:   a.buildSystem(tc),
		Messages: a.buildMessages(tc),
	}

	resp, err := a.backend.Complete(tc.Context, req)
	if err != nil {
		return nil, fmt.Errorf("support completion: %w", err)
	}

	return &core.StepOutput{ReplyFragment: strings.TrimSpace(resp.Text)}, nil
}

func (a *SupportAgent) buildSystem(tc *core.TurnContext) string {
	var b strings.Builder
	b.WriteString(a.systemPrompt)
	if intent := tc.FactValue(core.FactIntent); intent != "" && intent != "general" {
		fmt.Fprintf(&b, "\n\nThe customer's current intent has been classified as: %s.", intent)
	}
	if tc.FactValue(FactSentiment) == "negative" {
		b.WriteString("\nThe customer appears frustrated; acknowledge their frustration before answering.")
	}
	return b.String()
}

// buildMessages converts the session's recent history plus the current
// inbound message into provider-neutral chat turns. The snapshot never
// contains the in-flight inbound message, so it is always appended last.
func (a *SupportAgent) buildMessages(tc *core.TurnContext) []model.ChatMessage {
	var msgs []model.ChatMessage
	if tc.Session != nil {
		for _, m := range tc.Session.RecentMessages(a.historyWindow) {
			role := "user"
			if m.Direction == core.DirectionOutbound {
				role = "assistant"
			}
			msgs = append(msgs, model.ChatMessage{Role: role, Text: m.Body})
		}
	}
	msgs = append(msgs, model.ChatMessage{Role: "user", Text: tc.Inbound.Body})
	return msgs
}

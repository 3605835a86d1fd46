package agent

import (
	"strings"

	"github.com/threadline-ai/threadline/core"
)

// Fact keys written by the built-in agents beyond the shared core set.
const (
	FactSentiment = "sentiment"
	FactClosing   = "closing_requested"
)

// intentTable maps intent labels to trigger keywords. Matching is
// case-insensitive substring search, first label in table order wins, so
// classification is deterministic for identical input.
var intentTable = []struct {
	label    string
	keywords []string
}{
	{"human_request", []string{"human", "real person", "speak to someone", "representative"}},
	{"complaint", []string{"complaint", "unacceptable", "terrible", "furious", "lawsuit"}},
	{"billing", []string{"billing", "invoice", "charge", "refund", "payment"}},
	{"cancellation", []string{"cancel", "unsubscribe", "close my account"}},
	{"technical", []string{"error", "bug", "crash", "broken", "not working", "can't log in"}},
	{"greeting", []string{"hello", "hi there", "good morning", "good afternoon"}},
}

var negativeWords = []string{
	"angry", "frustrated", "terrible", "awful", "unacceptable", "worst",
	"furious", "disappointed", "useless",
}

var closingPhrases = []string{
	"that's all", "no further questions", "goodbye", "bye for now",
	"issue resolved", "all set, thanks",
}

// IntentAgentOptions configure an IntentAgent.
type IntentAgentOptions struct {
	// Name registers the agent under a custom identifier.
	Name string
	// FarewellReply is sent when the customer signals the conversation is
	// over and the session should close.
	FarewellReply string
}

// IntentAgent is a deterministic classifier that stages intent, sentiment
// and tag facts for the agents that run after it. It makes no backend calls
// and never fails, which is why it leads every built-in sequence.
type IntentAgent struct {
	name          string
	farewellReply string
}

// NewIntentAgent constructs the classifier with default options.
func NewIntentAgent(optFns ...func(o *IntentAgentOptions)) *IntentAgent {
	opts := IntentAgentOptions{
		Name:          "intent_agent",
		FarewellReply: "Thanks for reaching out! I'm closing this conversation now; message us any time if something else comes up.",
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &IntentAgent{name: opts.Name, farewellReply: opts.FarewellReply}
}

// Name implements core.Agent.
func (a *IntentAgent) Name() string { return a.name }

// Description implements core.Agent.
func (a *IntentAgent) Description() string {
	return "classifies intent and sentiment from the inbound message"
}

// Invoke stages classification facts. When the customer signals the
// conversation is done it also emits a close signal so the session
// terminates after the turn commits.
func (a *IntentAgent) Invoke(tc *core.TurnContext) (*core.StepOutput, error) {
	body := strings.ToLower(tc.Inbound.Body)
	out := &core.StepOutput{}

	intent := classifyIntent(body)
	out.Patch.SetFact(core.FactIntent, intent, false)
	out.Patch.AddTags("intent_" + intent)

	if containsAny(body, negativeWords) {
		out.Patch.SetFact(FactSentiment, "negative", false)
		out.Patch.AddTags("sentiment_negative")
	}

	if containsAny(body, closingPhrases) {
		out.Patch.SetFact(FactClosing, "true", false)
		out.ReplyFragment = a.farewellReply
		out.Signal = core.SignalCloseSession
	}
	return out, nil
}

func classifyIntent(body string) string {
	for _, entry := range intentTable {
		if containsAny(body, entry.keywords) {
			return entry.label
		}
	}
	return "general"
}

func containsAny(body string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(body, kw) {
			return true
		}
	}
	return false
}

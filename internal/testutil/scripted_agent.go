package testutil

import (
	"sync"

	"github.com/threadline-ai/threadline/core"
)

// ScriptedAgent is a core.Agent whose behavior is a plain function, with
// call counting for assertions.
type ScriptedAgent struct {
	AgentName string
	Script    func(tc *core.TurnContext) (*core.StepOutput, error)

	mu    sync.Mutex
	calls int
}

// NewScriptedAgent builds an agent that runs script on every invocation.
func NewScriptedAgent(name string, script func(tc *core.TurnContext) (*core.StepOutput, error)) *ScriptedAgent {
	return &ScriptedAgent{AgentName: name, Script: script}
}

// ReplyAgent builds an agent that always returns the given reply fragment.
func ReplyAgent(name, fragment string) *ScriptedAgent {
	return NewScriptedAgent(name, func(*core.TurnContext) (*core.StepOutput, error) {
		return &core.StepOutput{ReplyFragment: fragment}, nil
	})
}

// FailingAgent builds an agent that always returns err.
func FailingAgent(name string, err error) *ScriptedAgent {
	return NewScriptedAgent(name, func(*core.TurnContext) (*core.StepOutput, error) {
		return nil, err
	})
}

// Name implements core.Agent.
func (a *ScriptedAgent) Name() string { return a.AgentName }

// Description implements core.Agent.
func (a *ScriptedAgent) Description() string { return "scripted test agent" }

// Invoke implements core.Agent.
func (a *ScriptedAgent) Invoke(tc *core.TurnContext) (*core.StepOutput, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return a.Script(tc)
}

// Calls returns how many times Invoke ran.
func (a *ScriptedAgent) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

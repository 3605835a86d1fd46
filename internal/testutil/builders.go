// Package testutil contains fluent builders used across tests to reduce
// boilerplate when constructing sessions, messages and scripted agents.
// These helpers are intentionally minimal and not intended for production
// usage.
package testutil

import (
	"time"

	"github.com/threadline-ai/threadline/core"
)

// SessionBuilder constructs sessions with fluent chaining for tests.
// Example:
//
//	sess := NewSessionBuilder("sess-1").Fact("intent", "billing").UserText("hi").Build()
type SessionBuilder struct {
	id       string
	threadID string
	status   core.SessionStatus
	version  uint64
	activity time.Time
	facts    map[string]core.Fact
	tags     []string
	messages []core.Message
}

// NewSessionBuilder creates a builder for a session with the given id.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{
		id:       id,
		threadID: "thread-" + id,
		status:   core.SessionActive,
		activity: time.Now().UTC(),
		facts:    map[string]core.Fact{},
	}
}

// Thread sets the external thread id (chainable).
func (b *SessionBuilder) Thread(t string) *SessionBuilder { b.threadID = t; return b }

// Status sets the lifecycle status (chainable).
func (b *SessionBuilder) Status(s core.SessionStatus) *SessionBuilder { b.status = s; return b }

// Version sets the context version (chainable).
func (b *SessionBuilder) Version(v uint64) *SessionBuilder { b.version = v; return b }

// LastActivity sets the last activity timestamp (chainable).
func (b *SessionBuilder) LastActivity(t time.Time) *SessionBuilder { b.activity = t; return b }

// Fact sets an unpinned fact (chainable).
func (b *SessionBuilder) Fact(key, value string) *SessionBuilder {
	b.facts[key] = core.Fact{Value: value, UpdatedAt: b.activity}
	return b
}

// PinnedFact sets a pinned fact (chainable).
func (b *SessionBuilder) PinnedFact(key, value string) *SessionBuilder {
	b.facts[key] = core.Fact{Value: value, Pinned: true, UpdatedAt: b.activity}
	return b
}

// Tags appends conversation tags (chainable).
func (b *SessionBuilder) Tags(tags ...string) *SessionBuilder {
	b.tags = append(b.tags, tags...)
	return b
}

// UserText appends an inbound message (chainable).
func (b *SessionBuilder) UserText(body string) *SessionBuilder {
	b.messages = append(b.messages, Msg(body, core.DirectionInbound))
	return b
}

// AgentText appends an outbound message (chainable).
func (b *SessionBuilder) AgentText(body string) *SessionBuilder {
	b.messages = append(b.messages, Msg(body, core.DirectionOutbound))
	return b
}

// Build returns the assembled session.
func (b *SessionBuilder) Build() *core.Session {
	sess := core.NewSession(b.id, b.threadID)
	sess.Status = b.status
	sess.ContextVersion = b.version
	sess.LastActivityAt = b.activity
	for k, v := range b.facts {
		sess.Facts[k] = v
	}
	sess.Tags = append(sess.Tags, b.tags...)
	sess.Messages = append(sess.Messages, b.messages...)
	return sess
}

// Msg builds a message with a fresh id.
func Msg(body string, dir core.Direction) core.Message {
	return core.Message{
		ID:         core.NewID(),
		Body:       body,
		Direction:  dir,
		ReceivedAt: time.Now().UTC(),
	}
}

// Inbound builds a transport payload with a fresh message id.
func Inbound(threadID, body string) core.Inbound {
	return core.Inbound{
		ExternalThreadID: threadID,
		MessageID:        core.NewID(),
		Sender:           "+15550000001",
		Body:             body,
		Timestamp:        time.Now().UTC(),
	}
}

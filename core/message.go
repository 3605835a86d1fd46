package core

import (
	"time"

	"github.com/google/uuid"
)

// Direction distinguishes messages received from the external channel from
// replies emitted by the engine.
type Direction string

const (
	// DirectionInbound marks a message received from the external channel.
	DirectionInbound Direction = "inbound"
	// DirectionOutbound marks a reply emitted by the engine.
	DirectionOutbound Direction = "outbound"
)

// Message is an immutable record of one inbound or outbound utterance. It is
// created on ingestion (inbound) or reply emission (outbound), never mutated,
// and retained until the owning session is pruned.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Body           string    `json:"body"`
	ReceivedAt     time.Time `json:"received_at"`
	Direction      Direction `json:"direction"`
}

// Inbound is the payload the transport adapter delivers to the orchestrator.
// The external channel guarantees at-least-once delivery; MessageID is the
// dedup key.
type Inbound struct {
	ExternalThreadID string    `json:"external_thread_id"`
	MessageID        string    `json:"message_id"`
	Sender           string    `json:"sender"`
	Body             string    `json:"body"`
	Timestamp        time.Time `json:"timestamp"`
}

// Message converts the transport payload into an immutable inbound Message
// bound to the given session.
func (in Inbound) Message(sessionID string) Message {
	return Message{
		ID:             in.MessageID,
		ConversationID: sessionID,
		Sender:         in.Sender,
		Body:           in.Body,
		ReceivedAt:     in.Timestamp,
		Direction:      DirectionInbound,
	}
}

// OutboundReply is what the orchestrator hands to the outbound transport
// adapter. Delivery failures are the adapter's problem; the session commit
// has already happened by the time a reply exists.
type OutboundReply struct {
	ThreadID string `json:"thread_id"`
	Body     string `json:"body"`
}

// NewID generates a unique identifier for messages, turns and leases.
func NewID() string { return uuid.NewString() }

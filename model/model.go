// Package model abstracts the reasoning backends the pipeline invokes. The
// Model interface is deliberately a blocking call: the executor owns timeout
// and retry policy, so providers just translate one request into one
// completion and classify failures into the engine's error kinds.
package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a backend failure for retry policy purposes.
type ErrorKind string

const (
	// KindTimeout covers deadline expiry on the backend call.
	KindTimeout ErrorKind = "timeout"
	// KindRateLimited covers 429-style throttling.
	KindRateLimited ErrorKind = "rate_limited"
	// KindInvalidResponse covers malformed or empty completions; retrying
	// the identical request will not help.
	KindInvalidResponse ErrorKind = "invalid_response"
	// KindUnavailable covers connection failures and 5xx responses.
	KindUnavailable ErrorKind = "unavailable"
)

// Transient reports whether a failure of this kind is worth retrying.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindTimeout, KindRateLimited, KindUnavailable:
		return true
	default:
		return false
	}
}

// Error wraps a backend failure with its classification.
type Error struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string { return fmt.Sprintf("model %s: %v", e.Kind, e.Err) }

// Unwrap exposes the underlying error for errors.Is chains.
func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified model error.
func NewError(kind ErrorKind, err error) *Error { return &Error{Kind: kind, Err: err} }

// Classify maps an arbitrary provider error onto an ErrorKind. Context
// cancellation and deadline expiry map to timeout; everything else is
// pattern-matched on the error string since provider SDKs do not share a
// structured error type.
func Classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate"):
		return KindRateLimited
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return KindTimeout
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") ||
		strings.Contains(msg, "connection") || strings.Contains(msg, "unavailable") ||
		strings.Contains(msg, "overloaded"):
		return KindUnavailable
	default:
		return KindInvalidResponse
	}
}

// ChatMessage is one turn of prompt context in provider-neutral form.
type ChatMessage struct {
	Role string `json:"role"` // user, assistant
	Text string `json:"text"`
}

// Request is the normalized prompt the pipeline sends to a backend.
type Request struct {
	System   string        `json:"system,omitempty"`
	Messages []ChatMessage `json:"messages"`
}

// Response is a completed backend reply.
type Response struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", ...
}

// Model is the minimal interface the pipeline requires to drive generation.
// Complete must respect ctx cancellation and return *Error for failures so
// the executor can distinguish transient from permanent ones.
type Model interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Info() Info
}

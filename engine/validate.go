package engine

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/threadline-ai/threadline/core"
)

// ErrInvalidInbound marks envelope validation failures. Invalid messages are
// rejected before the ledger is consulted so they never consume a dedup slot.
var ErrInvalidInbound = errors.New("invalid inbound message")

// MaxBodyLength bounds the inbound message body.
const MaxBodyLength = 10000

// threadIDPattern constrains external thread identifiers: 3-100 chars of
// letters, digits, underscore and hyphen.
var threadIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,100}$`)

// ValidateInbound checks the envelope before any stateful work happens.
func ValidateInbound(in core.Inbound) error {
	if in.MessageID == "" {
		return fmt.Errorf("%w: missing message id", ErrInvalidInbound)
	}
	if !threadIDPattern.MatchString(in.ExternalThreadID) {
		return fmt.Errorf("%w: thread id must be 3-100 chars of [A-Za-z0-9_-]", ErrInvalidInbound)
	}
	if in.Body == "" {
		return fmt.Errorf("%w: empty body", ErrInvalidInbound)
	}
	if len(in.Body) > MaxBodyLength {
		return fmt.Errorf("%w: body exceeds %d characters", ErrInvalidInbound, MaxBodyLength)
	}
	return nil
}

package core

import "errors"

// Error taxonomy. Duplicate is benign and expected; SessionBusy and Conflict
// are transient and retried by the orchestrator; StoreUnavailable fails the
// turn closed and surfaces to the caller for upstream retry. Nothing here is
// fatal to the process.
var (
	// ErrDuplicate is returned by the dedup ledger for a message id that was
	// already accepted within the retention window.
	ErrDuplicate = errors.New("duplicate message")

	// ErrSessionBusy is returned by checkout when another turn holds the
	// session lease.
	ErrSessionBusy = errors.New("session busy")

	// ErrConflict is returned by commit when the session's context version
	// moved past the one observed at checkout.
	ErrConflict = errors.New("context version conflict")

	// ErrStoreUnavailable wraps backing-store failures; the orchestrator
	// rejects ingestion rather than risk double-processing.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrSessionNotFound is returned for lookups of unknown session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned when a turn arrives for a session in the
	// terminal closed state.
	ErrSessionClosed = errors.New("session closed")

	// ErrLeaseExpired is returned by commit when the presented lease is no
	// longer the active one for the session.
	ErrLeaseExpired = errors.New("lease expired")

	// ErrQueueFull is returned when a session's pending-turn queue is at
	// capacity; the caller should retry later.
	ErrQueueFull = errors.New("session queue full")

	// ErrUnknownAgent is returned when a routed agent identifier is not in
	// the registry.
	ErrUnknownAgent = errors.New("unknown agent")
)

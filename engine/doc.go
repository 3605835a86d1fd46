// Package engine is the orchestration core: it owns the end-to-end turn
// sequence from inbound message to committed reply.
//
// For every inbound message the engine:
//
//  1. Validates the envelope (thread id shape, body bounds)
//  2. Consults the dedup ledger — duplicates are rejected before any
//     session or model work happens
//  3. Resolves or creates the session for the external thread
//  4. Enters the per-session FIFO gate so turns for one conversation never
//     interleave; the gate is bounded and rejects overflow
//  5. Checks out the session under an exclusive lease and snapshots it
//  6. Routes the message to an agent sequence and runs the pipeline
//  7. Commits the accumulated context patch under optimistic concurrency,
//     retrying the turn on version conflicts
//  8. Applies control signals (escalation, session close) and records the
//     turn in the audit trail
//
// Failed turns are committed too: the conversation history must reflect
// what the customer actually saw, including fallback replies.
//
// The engine holds no conversation state of its own — everything lives in
// the session store behind the lifecycle manager.
package engine

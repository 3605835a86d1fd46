// Package agent contains the built-in conversation agents the router
// sequences into pipelines:
//
//  1. IntentAgent – deterministic intent and sentiment extraction (no
//     backend calls)
//  2. SupportAgent – model-backed reply generation over the session's
//     recent history
//  3. HandoffAgent – escalation to human support with level and priority
//     facts
//
// Agents are stateless: everything they know arrives through the turn
// context and everything they produce leaves as a StepOutput. Persistence,
// retries and timeouts live in the pipeline package.
package agent

// Package session implements the session lifecycle manager: resolve-or-create
// with per-thread serialization, the exclusive checkout/lease protocol that
// makes turn processing sequential within a conversation, optimistic
// concurrency on commit, and the background sweep that moves sessions through
// active ⇄ idle → expired → closed and prunes expired context.
package session

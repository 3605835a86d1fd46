// Package core defines the domain model shared by every component of the
// engine: messages, conversation sessions, turns, context patches, the agent
// capability interface and the store contracts. It has no dependencies on the
// concrete store, router or pipeline implementations so that those packages
// can depend on it without cycles.
package core

// Package stores provides InstanceStore implementations for the workflow
// engine: a durable SQLite store with embedded migrations and optimistic
// version checking, and an in-memory store for tests and ephemeral use.
//
// Both stores implement the same stale-write contract: SaveInstance
// compares the caller's instance version against the stored one and returns
// workflow.ErrVersionConflict on a mismatch, which the engine absorbs by
// re-reading and re-applying the transition.
package stores

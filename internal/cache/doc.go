// Package cache stores immutable dependency-layer artifacts keyed by
// manifest fingerprint.
//
// A [Store] maps fingerprints to content-addressed artifacts. Artifacts
// are published once, never mutated, and looked up by existence check
// before a build decides whether the dependency stage can be skipped.
// Byte storage is delegated to the backing store; the build itself never
// retains artifact content across invocations.
//
// Two implementations are provided: [MemoryStore], an in-process fake
// used by tests and single-shot builds, and [LayoutStore], an OCI image
// layout directory whose blobs can be synced to any registry.
//
// Publishing is content-equality-wins: re-publishing identical bytes for
// a key is a no-op, while publishing different bytes for an existing key
// fails with [ErrCacheCorruption]. A corrupted key means the fingerprint
// no longer identifies unique content (a collision or a non-deterministic
// dependency build) and is never resolved silently.
package cache

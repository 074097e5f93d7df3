// Package engine implements the origin-partitioned cache directory: a
// per-session Engine owning lazily-initialized origin partitions, the named
// caches inside them, quota enforcement, advisory locks gating physical
// deletion, and the salt/manifest blobs persisted at the storage root. All
// disk work for one root flows through that root's serial queue; in-memory
// state detaches synchronously on clears so callers never observe removed
// caches while background deletion still runs. A Registry maps sessions to
// engines, creating each engine on first use.
package engine

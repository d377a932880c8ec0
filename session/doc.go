// Package session provides the Redis-backed session store: one record per
// logged-in device, a per-principal index ordered by last activity, and a
// hard cap on concurrent sessions enforced by evicting the least recently
// active one.
//
// # Atomicity
//
// Create (with eviction), Touch, Rotate and Delete are each one Lua script.
// Two logins of the same principal racing each other are serialized by
// Redis, so the cap holds without any in-process locking.
//
// # Expiry
//
// Records carry a Redis TTL equal to their remaining lifetime. Reads also
// compare expiresAt against the store clock and delete stale records they
// observe.
//
// # What this package must NOT do
//
//   - Import authority, token or revocation (no upward imports).
//   - Interpret tokens or make authorization decisions.
package session

// Package authority is the session and token authority of the platform:
// OAuth login with single-use CSRF state, Ed25519-signed access and refresh
// tokens, a cap of three concurrent sessions per principal enforced by
// evicting the least recently active one, token revocation and
// per-operation rate limits.
//
// An [Authority] is assembled with [Builder] and is safe for concurrent use.
// All shared state lives in Redis; evict-then-insert, refresh rotation and
// state consumption are each a single atomic operation there.
//
// # Architecture boundaries
//
// authority is the public surface. It exposes [Authority], [Builder],
// [Config] and value types. The token, session, revocation, oauth and
// directory packages are the components; rate limiting and audit dispatch
// live under internal/.
//
// # Errors
//
// Verification failures are distinguishable ([ErrTokenExpired],
// [ErrTokenRevoked], [ErrTokenMalformed], [ErrTokenSignatureInvalid]) but
// [IsUnauthenticated] groups them, and the HTTP layer answers all of them
// the same way. Storage failures return [ErrStorageUnavailable]; nothing
// fails open.
package authority

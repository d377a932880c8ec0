// Package rate provides the Redis-backed fixed-window rate limiter guarding
// the login, callback and refresh operations.
//
// # Window semantics
//
// The window of a (client, operation) pair starts at its first request. The
// counter key ratelimit:{client}:{operation} expires with the window. The
// request that pushes the count past the limit, and every later one until
// expiry, is rejected with the remaining window as retry-after.
//
// # What this package must NOT do
//
//   - Know about tokens, sessions or principals.
//   - Be imported outside this module.
package rate

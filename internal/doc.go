// Package internal holds helpers shared by the authority packages: random
// session ids and state tokens, and device identification.
//
// Sub-packages:
//
//   - audit: asynchronous audit event delivery
//   - rate: Redis-backed per-operation rate limiter
package internal

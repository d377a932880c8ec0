// Package token issues and verifies the signed access and refresh tokens
// handed to clients after login.
//
// Tokens are compact JWTs signed with Ed25519. Every token carries a unique
// token id (jti) so it can be revoked individually, and the id of the
// session it belongs to. Signature and algorithm are checked before any
// claim is trusted.
//
// This package is pure: it never talks to storage. Revocation and session
// liveness are layered on top by the authority package.
package token

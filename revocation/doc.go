// Package revocation is the registry of token ids that must no longer
// verify before their natural expiry.
//
// Each entry lives at revoked:{tokenId} with a TTL equal to the remaining
// lifetime of the token it blocks, so the registry never grows past the set
// of still-valid tokens. Lookups are a single EXISTS.
package revocation

package internal

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	sessionIDBytes  = 16
	stateTokenBytes = 32
)

// NewSessionID returns a 128-bit random session id, base64url encoded
// without padding (22 characters).
func NewSessionID() (string, error) {
	return randomToken(sessionIDBytes)
}

// NewStateToken returns 256 bits of randomness, base64url encoded. Used for
// CSRF state and OIDC nonces.
func NewStateToken() (string, error) {
	return randomToken(stateTokenBytes)
}

func randomToken(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

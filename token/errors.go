package token

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformed is returned for tokens that cannot be decoded, carry
	// invalid claims or are of the wrong kind.
	ErrMalformed = errors.New("token malformed")
	// ErrInvalidSignature is returned when the signature, algorithm or key id
	// does not verify.
	ErrInvalidSignature = errors.New("token signature invalid")
	// ErrExpired is returned for a correctly signed token past its expiry.
	ErrExpired = errors.New("token expired")
)

// classify folds the jwt library error tree into the three token errors.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrMalformed
	}
}

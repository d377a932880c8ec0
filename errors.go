package authority

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned when no active principal matches the
	// presented identity.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenExpired is returned for a correctly signed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked is returned for a token whose id is revoked or whose
	// session no longer exists.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrTokenMalformed is returned for input that is not a token of the
	// expected kind.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenSignatureInvalid is returned when the signature does not verify.
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
	// ErrSessionLimitReached marks audit events for sessions evicted by the
	// per-principal cap. It is never returned to callers.
	ErrSessionLimitReached = errors.New("session limit reached")
	// ErrCSRFMismatch is returned when the login state is unknown, reused or
	// does not match.
	ErrCSRFMismatch = errors.New("csrf state mismatch")
	// ErrProviderExchangeFailed is returned when the identity provider
	// rejects or fails the code exchange.
	ErrProviderExchangeFailed = errors.New("provider exchange failed")
	// ErrRateLimited is matched by every [*RateLimitedError].
	ErrRateLimited = errors.New("rate limited")
	// ErrPrincipalInactive is returned for disabled principals.
	ErrPrincipalInactive = errors.New("principal inactive")
	// ErrStorageUnavailable is returned when a backing store cannot be
	// reached. Requests fail closed.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrLoginUnavailable is returned by login operations when no identity
	// provider is configured.
	ErrLoginUnavailable = errors.New("login provider not configured")
)

// RateLimitedError reports a rejected operation and when to retry.
type RateLimitedError struct {
	Operation  string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s rate limited: retry after %s", e.Operation, e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) hold.
func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// IsUnauthenticated reports whether err is one of the verification failures
// that the HTTP boundary collapses into a single response.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenRevoked) ||
		errors.Is(err, ErrTokenMalformed) ||
		errors.Is(err, ErrTokenSignatureInvalid)
}

// RetryAfter extracts the retry delay from a rate limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

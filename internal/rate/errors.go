package rate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited is matched by every [*LimitedError].
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps storage failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// LimitedError reports a rejected request and how long the caller should
// wait before the window resets. RetryAfter never exceeds the window.
type LimitedError struct {
	Operation  string
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limited: %s, retry after %s", e.Operation, e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) true.
func (e *LimitedError) Is(target error) bool { return target == ErrRateLimited }

package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every storage failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Entry is a token id blocked until ExpiresAt.
type Entry struct {
	TokenID   string
	ExpiresAt time.Time
}

// Registry is a Redis-backed revocation set. It is safe for concurrent use.
type Registry struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRegistry creates a [Registry]. prefix namespaces all keys and may be
// empty. now defaults to time.Now.
func NewRegistry(rdb redis.UniversalClient, prefix string, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{redis: rdb, prefix: prefix, now: now}
}

func (r *Registry) key(tokenID string) string {
	return r.prefix + "revoked:" + tokenID
}

// Add revokes tokenID until the given instant. Entries whose expiry has
// already passed are not written since the token can no longer verify.
func (r *Registry) Add(ctx context.Context, tokenID string, until time.Time) error {
	if tokenID == "" {
		return nil
	}
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.redis.Set(ctx, r.key(tokenID), until.UnixMilli(), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// AddMany revokes several tokens in one round trip.
func (r *Registry) AddMany(ctx context.Context, entries ...Entry) error {
	now := r.now()
	_, err := r.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			ttl := e.ExpiresAt.Sub(now)
			if e.TokenID == "" || ttl <= 0 {
				continue
			}
			pipe.Set(ctx, r.key(e.TokenID), e.ExpiresAt.UnixMilli(), ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Contains reports whether tokenID is currently revoked.
func (r *Registry) Contains(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.redis.Exists(ctx, r.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every Redis or script failure. Callers map it to
// a storage outage and never treat it as a missing session.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrSessionNotFound is returned when a session does not exist, has expired
// or belongs to another principal.
var ErrSessionNotFound = errors.New("session not found")

// ErrRefreshReuse is returned by [Store.Rotate] when the presented refresh
// token id is not the session's current one. The session is destroyed.
var ErrRefreshReuse = errors.New("refresh token reuse detected")

// DefaultMaxPerPrincipal is the concurrent session cap.
const DefaultMaxPerPrincipal = 3

// Config configures a [Store].
type Config struct {
	// KeyPrefix namespaces every key. May be empty.
	KeyPrefix string
	// MaxPerPrincipal caps concurrent sessions. Defaults to DefaultMaxPerPrincipal.
	MaxPerPrincipal int
	// AbsoluteLifetime bounds a session from its first login, across
	// refreshes. Zero disables the bound.
	AbsoluteLifetime time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Store is a Redis-backed session store. Every mutation is a single Lua
// script, so concurrent logins of one principal never exceed the cap.
//
// Layout:
//
//	session:{sessionId}               HASH  session record, TTL = expiresAt - now
//	sessionsByPrincipal:{principalId} ZSET  session ids scored by lastActivityAt (ms)
type Store struct {
	redis  redis.UniversalClient
	config Config
	now    func() time.Time
}

// NewStore creates a session [Store] backed by the given Redis client.
func NewStore(rdb redis.UniversalClient, cfg Config) *Store {
	if cfg.MaxPerPrincipal <= 0 {
		cfg.MaxPerPrincipal = DefaultMaxPerPrincipal
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{redis: rdb, config: cfg, now: now}
}

// MaxPerPrincipal returns the configured session cap.
func (s *Store) MaxPerPrincipal() int { return s.config.MaxPerPrincipal }

func (s *Store) sessionPrefix() string { return s.config.KeyPrefix + "session:" }

func (s *Store) indexPrefix() string { return s.config.KeyPrefix + "sessionsByPrincipal:" }

func (s *Store) key(sessionID string) string { return s.sessionPrefix() + sessionID }

func (s *Store) indexKey(principalID string) string { return s.indexPrefix() + principalID }

// Create inserts sess. When the principal already holds MaxPerPrincipal
// live sessions, the least recently active ones are evicted in the same
// atomic step and returned so their tokens can be revoked.
//
//	Performance: 1 Lua EVALSHA.
func (s *Store) Create(ctx context.Context, sess *Session) ([]Removed, error) {
	if sess == nil || sess.PrincipalID == "" || sess.SessionID == "" {
		return nil, errors.New("session requires principal and session id")
	}
	now := s.now()
	if !sess.ExpiresAt.After(now) {
		return nil, errors.New("session expiry must be in the future")
	}
	if sess.LastActivityAt.IsZero() {
		sess.LastActivityAt = now
	}
	if sess.IssuedAt.IsZero() {
		sess.IssuedAt = now
	}

	ttl := sess.ExpiresAt.Sub(now).Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}
	args := []interface{}{
		s.sessionPrefix(),
		now.UnixMilli(),
		s.config.MaxPerPrincipal,
		sess.SessionID,
		ttl,
		sess.LastActivityAt.UnixMilli(),
	}
	args = append(args, encodeFields(sess)...)

	res, err := createLua.Run(ctx, s.redis, []string{s.key(sess.SessionID), s.indexKey(sess.PrincipalID)}, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	evicted, err := decodeRemovedList(res)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return evicted, nil
}

// Touch marks the session active at the current time. It reports false when
// the session is gone, expired or owned by another principal.
func (s *Store) Touch(ctx context.Context, principalID, sessionID string) (bool, error) {
	now := s.now().UnixMilli()
	status, err := touchLua.Run(ctx, s.redis,
		[]string{s.key(sessionID), s.indexKey(principalID)},
		principalID, now, sessionID,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return status == touchStatusActive, nil
}

// Get returns one session. Expired records are removed on read.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	m, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(m) == 0 {
		return nil, ErrSessionNotFound
	}
	sess, err := decodeFields(m)
	if err != nil {
		return nil, err
	}
	if !sess.ExpiresAt.After(s.now()) {
		if _, err := s.Delete(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// IsActive reports whether sessionID exists and has not expired.
func (s *Store) IsActive(ctx context.Context, sessionID string) (bool, error) {
	_, err := s.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns the principal's live sessions, most recently active first.
// Stale index entries are pruned on read.
//
//	Performance: 1 ZRANGE + 1 pipelined HGETALL batch.
func (s *Store) List(ctx context.Context, principalID string) ([]*Session, error) {
	indexKey := s.indexKey(principalID)
	ids, err := s.redis.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	now := s.now()
	out := make([]*Session, 0, len(ids))
	var stale []string
	for i, cmd := range cmds {
		sess, decErr := decodeFields(cmd.Val())
		if decErr != nil || !sess.ExpiresAt.After(now) {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, sess)
	}

	for _, id := range stale {
		if _, err := s.Delete(ctx, id); err != nil {
			return nil, err
		}
		if err := s.redis.ZRem(ctx, indexKey, id).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

// Rotate swaps the session's token ids when r.PresentedID is its current
// refresh token id. The new session expiry is the new refresh expiry,
// capped by the absolute lifetime; it is returned on success.
//
// A presented id that does not match means the refresh token was already
// rotated. The session is destroyed and ErrRefreshReuse is returned along
// with the removed record.
//
//	Performance: 1 Lua EVALSHA (atomic compare-and-swap).
func (s *Store) Rotate(ctx context.Context, r Rotation) (time.Time, *Removed, error) {
	now := s.now()
	res, err := rotateLua.Run(ctx, s.redis,
		[]string{s.key(r.SessionID), s.indexKey(r.PrincipalID)},
		r.PrincipalID,
		r.SessionID,
		r.PresentedID,
		now.UnixMilli(),
		r.AccessTokenID,
		r.AccessExpiresAt.UnixMilli(),
		r.RefreshTokenID,
		r.RefreshExpiresAt.UnixMilli(),
		s.config.AbsoluteLifetime.Milliseconds(),
	).Slice()
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) == 0 {
		return time.Time{}, nil, fmt.Errorf("%w: invalid rotate script response", ErrRedisUnavailable)
	}
	code, ok := res[0].(int64)
	if !ok {
		return time.Time{}, nil, fmt.Errorf("%w: invalid rotate script status", ErrRedisUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return time.Time{}, nil, ErrSessionNotFound
	case rotateStatusReused:
		removed, decErr := decodeRemoved(res[1:])
		if decErr != nil {
			return time.Time{}, nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, decErr)
		}
		return time.Time{}, &removed, ErrRefreshReuse
	case rotateStatusRotated:
		if len(res) < 2 {
			return time.Time{}, nil, fmt.Errorf("%w: missing session expiry", ErrRedisUnavailable)
		}
		var ms int64
		switch v := res[1].(type) {
		case int64:
			ms = v
		case string:
			ms, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return time.Time{}, nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
		default:
			return time.Time{}, nil, fmt.Errorf("%w: invalid session expiry", ErrRedisUnavailable)
		}
		return time.UnixMilli(ms), nil, nil
	default:
		return time.Time{}, nil, fmt.Errorf("%w: unknown rotate script status", ErrRedisUnavailable)
	}
}

// Delete removes one session and returns it, or nil when it did not exist.
// Deleting twice is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) (*Removed, error) {
	res, err := deleteLua.Run(ctx, s.redis, []string{s.key(sessionID)}, s.indexPrefix(), sessionID).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	removed, err := decodeRemoved(res)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return &removed, nil
}

// DeleteAllForPrincipal removes every session of the principal atomically.
func (s *Store) DeleteAllForPrincipal(ctx context.Context, principalID string) ([]Removed, error) {
	res, err := deleteAllLua.Run(ctx, s.redis, []string{s.indexKey(principalID)}, s.sessionPrefix()).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	removed, err := decodeRemovedList(res)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return removed, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

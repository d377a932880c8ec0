package revocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRegistry(t *testing.T, now time.Time) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return NewRegistry(rdb, "", func() time.Time { return now }), mr
}

func TestAddContainsAndExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reg, mr := newTestRegistry(t, now)
	ctx := context.Background()

	if err := reg.Add(ctx, "jti-1", now.Add(5*time.Minute)); err != nil {
		t.Fatalf("add: %v", err)
	}
	revoked, err := reg.Contains(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected jti-1 revoked, got %v %v", revoked, err)
	}
	if ttl := mr.TTL("revoked:jti-1"); ttl != 5*time.Minute {
		t.Fatalf("expected ttl of remaining lifetime, got %v", ttl)
	}

	mr.FastForward(5*time.Minute + time.Millisecond)
	revoked, err = reg.Contains(ctx, "jti-1")
	if err != nil {
		t.Fatalf("contains: %v", err)
	}
	if revoked {
		t.Fatal("expected entry to disappear after token expiry")
	}
}

func TestAddSkipsAlreadyExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reg, mr := newTestRegistry(t, now)

	if err := reg.Add(context.Background(), "old", now.Add(-time.Second)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if mr.Exists("revoked:old") {
		t.Fatal("expired token must not be stored")
	}
}

func TestAddManyAndPrefix(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	reg := NewRegistry(rdb, "bench:", func() time.Time { return now })
	ctx := context.Background()

	err := reg.AddMany(ctx,
		Entry{TokenID: "a", ExpiresAt: now.Add(time.Minute)},
		Entry{TokenID: "b", ExpiresAt: now.Add(time.Hour)},
		Entry{TokenID: "c", ExpiresAt: now.Add(-time.Minute)},
		Entry{TokenID: "", ExpiresAt: now.Add(time.Minute)},
	)
	if err != nil {
		t.Fatalf("add many: %v", err)
	}
	for id, want := range map[string]bool{"a": true, "b": true, "c": false} {
		got, err := reg.Contains(ctx, id)
		if err != nil {
			t.Fatalf("contains %s: %v", id, err)
		}
		if got != want {
			t.Fatalf("token %s: expected revoked=%v, got %v", id, want, got)
		}
	}
	if !mr.Exists("bench:revoked:a") {
		t.Fatal("expected prefixed key")
	}
}

func TestStorageFailureIsReported(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reg, mr := newTestRegistry(t, now)
	mr.Close()

	if _, err := reg.Contains(context.Background(), "x"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
	if err := reg.Add(context.Background(), "x", now.Add(time.Minute)); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

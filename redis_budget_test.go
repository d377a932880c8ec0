package authority

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
)

// cmdCounter is a go-redis hook that counts commands, pipelined ones
// included.
type cmdCounter struct {
	commands atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) Reset()          { h.commands.Store(0) }
func (h *cmdCounter) Commands() int64 { return h.commands.Load() }

func newCountedFixture(t *testing.T) (*authorityFixture, *cmdCounter) {
	t.Helper()
	f := newAuthorityFixture(t, nil)
	counter := &cmdCounter{}
	f.rdb.AddHook(counter)
	return f, counter
}

func TestVerifyRedisBudget(t *testing.T) {
	f, counter := newCountedFixture(t)
	res := f.login(t, "laptop")
	ctx := context.Background()

	// first call loads the touch script
	if _, err := f.auth.Verify(ctx, res.AccessToken); err != nil {
		t.Fatalf("warmup verify: %v", err)
	}

	counter.Reset()
	if _, err := f.auth.Verify(ctx, res.AccessToken); err != nil {
		t.Fatalf("verify: %v", err)
	}
	// revocation EXISTS plus the touch script
	if got := counter.Commands(); got != 2 {
		t.Fatalf("verify used %d redis commands, want 2", got)
	}
}

func TestRefreshRedisBudget(t *testing.T) {
	f, counter := newCountedFixture(t)
	res := f.login(t, "laptop")
	ctx := context.Background()

	next, err := f.auth.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("warmup refresh: %v", err)
	}

	counter.Reset()
	if _, err := f.auth.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	// rate limit script, revocation EXISTS, rotate script, revoke SET
	if got := counter.Commands(); got != 4 {
		t.Fatalf("refresh used %d redis commands, want 4", got)
	}
}

func TestRejectedTokenSkipsRedis(t *testing.T) {
	f, counter := newCountedFixture(t)

	counter.Reset()
	if _, err := f.auth.Verify(context.Background(), "not-a-token"); !IsUnauthenticated(err) {
		t.Fatalf("expected unauthenticated error, got %v", err)
	}
	if got := counter.Commands(); got != 0 {
		t.Fatalf("malformed token caused %d redis commands", got)
	}
}

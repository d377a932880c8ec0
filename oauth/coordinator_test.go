package oauth

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authority/directory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu       sync.Mutex
	identity *Identity
	err      error
	delay    time.Duration
	calls    atomic.Int32
	lastReq  AuthRequest
}

func (p *fakeProvider) AuthCodeURL(req AuthRequest) string {
	return "https://idp.example/authorize?state=" + url.QueryEscape(req.State) + "&nonce=" + url.QueryEscape(req.Nonce)
}

func (p *fakeProvider) Exchange(ctx context.Context, code string, req AuthRequest) (*Identity, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.lastReq = req
	delay, identity, err := p.delay, p.identity, p.err
	p.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return identity, nil
}

type coordinatorFixture struct {
	coord    *Coordinator
	provider *fakeProvider
	dir      *directory.Static
	mr       *miniredis.Miniredis
}

func newCoordinatorFixture(t *testing.T, cfg Config) *coordinatorFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	provider := &fakeProvider{identity: &Identity{Subject: "sub-1", Email: "ana@example.com", EmailVerified: true}}
	dir := directory.NewStatic(directory.Principal{ID: "p1", Email: "ana@example.com", Role: "analyst", Active: true})
	coord, err := NewCoordinator(provider, NewStateStore(rdb, ""), dir, cfg, nil, nil)
	require.NoError(t, err)
	return &coordinatorFixture{coord: coord, provider: provider, dir: dir, mr: mr}
}

func noopIssue(context.Context, directory.Principal) error { return nil }

func flowState(t *testing.T, err error) FlowState {
	t.Helper()
	var fe *FlowError
	require.True(t, errors.As(err, &fe), "expected *FlowError, got %T", err)
	return fe.State
}

func TestBeginPersistsState(t *testing.T) {
	t.Parallel()
	f := newCoordinatorFixture(t, DefaultConfig())

	redirect, err := f.coord.Begin(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, redirect.State)
	assert.Contains(t, redirect.URL, url.QueryEscape(redirect.State))

	key := "oauthstate:" + redirect.State
	require.True(t, f.mr.Exists(key))
	assert.Equal(t, 10*time.Minute, f.mr.TTL(key))
}

func TestCompleteHappyPath(t *testing.T) {
	t.Parallel()
	f := newCoordinatorFixture(t, DefaultConfig())
	ctx := context.Background()

	redirect, err := f.coord.Begin(ctx)
	require.NoError(t, err)

	var issued directory.Principal
	outcome, err := f.coord.Complete(ctx, Callback{Code: "code", State: redirect.State, BoundState: redirect.State}, func(_ context.Context, p directory.Principal) error {
		issued = p
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateSessionCreated, outcome.State)
	assert.Equal(t, "p1", issued.ID)
	assert.Equal(t, "sub-1", outcome.Identity.Subject)
	assert.NotEmpty(t, f.provider.lastReq.Verifier, "PKCE verifier must be passed to the exchange")
	assert.NotEmpty(t, f.provider.lastReq.Nonce)
	assert.False(t, f.mr.Exists("oauthstate:"+redirect.State), "state must be consumed")
}

func TestCallbackReplayIsRejected(t *testing.T) {
	t.Parallel()
	f := newCoordinatorFixture(t, DefaultConfig())
	ctx := context.Background()

	redirect, err := f.coord.Begin(ctx)
	require.NoError(t, err)
	cb := Callback{Code: "code", State: redirect.State, BoundState: redirect.State}

	_, err = f.coord.Complete(ctx, cb, noopIssue)
	require.NoError(t, err)

	_, err = f.coord.Complete(ctx, cb, noopIssue)
	require.ErrorIs(t, err, ErrCSRFMismatch)
	assert.Equal(t, StateRejected, flowState(t, err))
	assert.Equal(t, int32(1), f.provider.calls.Load(), "replay must not reach the provider")
}

func TestConcurrentCallbacksSingleWinner(t *testing.T) {
	t.Parallel()
	f := newCoordinatorFixture(t, DefaultConfig())
	ctx := context.Background()

	redirect, err := f.coord.Begin(ctx)
	require.NoError(t, err)
	cb := Callback{Code: "code", State: redirect.State, BoundState: redirect.State}

	var (
		wg      sync.WaitGroup
		success atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.coord.Complete(ctx, cb, noopIssue); err == nil {
				success.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), success.Load())
}

func TestCompleteRejectsStateMismatches(t *testing.T) {
	t.Parallel()
	f := newCoordinatorFixture(t, DefaultConfig())
	ctx := context.Background()

	_, err := f.coord.Complete(ctx, Callback{Code: "c", State: ""}, noopIssue)
	assert.ErrorIs(t, err, ErrCSRFMismatch)

	_, err = f.coord.Complete(ctx, Callback{Code: "c", State: "forged", BoundState: "forged"}, noopIssue)
	assert.ErrorIs(t, err, ErrCSRFMismatch)

	redirect, err := f.coord.Begin(ctx)
	require.NoError(t, err)
	_, err = f.coord.Complete(ctx, Callback{Code: "c", State: redirect.State, BoundState: "other"}, noopIssue)
	assert.ErrorIs(t, err, ErrCSRFMismatch)
	assert.False(t, f.mr.Exists("oauthstate:"+redirect.State), "state is consumed even when rejected")

	redirect, err = f.coord.Begin(ctx)
	require.NoError(t, err)
	_, err = f.coord.Complete(ctx, Callback{Code: "c", State: redirect.State}, noopIssue)
	assert.ErrorIs(t, err, ErrCSRFMismatch, "missing bound state must be rejected")
	assert.Equal(t, int32(0), f.provider.calls.Load())
}

func TestCompleteWithoutBoundStateWhenNotRequired(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.RequireBoundState = false
	f := newCoordinatorFixture(t, cfg)
	ctx := context.Background()

	redirect, err := f.coord.Begin(ctx)
	require.NoError(t, err)
	_, err = f.coord.Complete(ctx, Callback{Code: "c", State: redirect.State}, noopIssue)
	require.NoError(t, err)
}

func TestExpiredStateIsRejected(t *testing.T) {
	t.Parallel()
	f := newCoordinatorFixture(t, DefaultConfig())
	ctx := context.Background()

	redirect, err := f.coord.Begin(ctx)
	require.NoError(t, err)
	f.mr.FastForward(11 * time.Minute)

	_, err = f.coord.Complete(ctx, Callback{Code: "c", State: redirect.State, BoundState: redirect.State}, noopIssue)
	assert.ErrorIs(t, err, ErrCSRFMismatch)
}

func TestProviderFailures(t *testing.T) {
	t.Parallel()
	f := newCoordinatorFixture(t, DefaultConfig())
	ctx := context.Background()

	redirect, err := f.coord.Begin(ctx)
	require.NoError(t, err)
	_, err = f.coord.Complete(ctx, Callback{State: redirect.State, BoundState: redirect.State, ProviderError: "access_denied"}, noopIssue)
	assert.ErrorIs(t, err, ErrProviderExchange)
	assert.Equal(t, StateValidated, flowState(t, err))

	f.provider.mu.Lock()
	f.provider.err = errors.New("invalid_grant")
	f.provider.mu.Unlock()
	redirect, err = f.coord.Begin(ctx)
	require.NoError(t, err)
	_, err = f.coord.Complete(ctx, Callback{Code: "c", State: redirect.State, BoundState: redirect.State}, noopIssue)
	assert.ErrorIs(t, err, ErrProviderExchange)
	assert.Equal(t, int32(1), f.provider.calls.Load(), "exchange is never retried")
}

func TestExchangeTimeout(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.ExchangeTimeout = 20 * time.Millisecond
	f := newCoordinatorFixture(t, cfg)
	f.provider.delay = time.Second
	ctx := context.Background()

	redirect, err := f.coord.Begin(ctx)
	require.NoError(t, err)
	start := time.Now()
	_, err = f.coord.Complete(ctx, Callback{Code: "c", State: redirect.State, BoundState: redirect.State}, noopIssue)
	assert.ErrorIs(t, err, ErrProviderExchange)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDirectoryOutcomes(t *testing.T) {
	t.Parallel()
	f := newCoordinatorFixture(t, DefaultConfig())
	ctx := context.Background()

	run := func() error {
		redirect, err := f.coord.Begin(ctx)
		require.NoError(t, err)
		_, err = f.coord.Complete(ctx, Callback{Code: "c", State: redirect.State, BoundState: redirect.State}, noopIssue)
		return err
	}

	f.dir.SetActive("p1", false)
	assert.ErrorIs(t, run(), ErrPrincipalInactive)

	f.provider.mu.Lock()
	f.provider.identity = &Identity{Subject: "x", Email: "stranger@example.com", EmailVerified: true}
	f.provider.mu.Unlock()
	assert.ErrorIs(t, run(), ErrPrincipalNotFound)

	f.dir.SetActive("p1", true)
	f.provider.mu.Lock()
	f.provider.identity = &Identity{Subject: "x", Email: "ana@example.com", EmailVerified: false}
	f.provider.mu.Unlock()
	assert.ErrorIs(t, run(), ErrPrincipalNotFound)
}

func TestIssueFailureIsReported(t *testing.T) {
	t.Parallel()
	f := newCoordinatorFixture(t, DefaultConfig())
	ctx := context.Background()
	boom := errors.New("storage down")

	redirect, err := f.coord.Begin(ctx)
	require.NoError(t, err)
	_, err = f.coord.Complete(ctx, Callback{Code: "c", State: redirect.State, BoundState: redirect.State}, func(context.Context, directory.Principal) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, flowState(t, err))
}

func TestStateStorageFailure(t *testing.T) {
	t.Parallel()
	f := newCoordinatorFixture(t, DefaultConfig())
	f.mr.Close()

	_, err := f.coord.Begin(context.Background())
	assert.ErrorIs(t, err, ErrStateStorage)
	_, err = f.coord.Complete(context.Background(), Callback{Code: "c", State: "s", BoundState: "s"}, noopIssue)
	assert.ErrorIs(t, err, ErrStateStorage)
}

func TestFlowStateString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "session_created", StateSessionCreated.String())
	assert.Equal(t, "state_rejected", StateRejected.String())
	assert.Equal(t, "flow_state(42)", FlowState(42).String())
}

package authority

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authority/directory"
	"github.com/MrEthical07/authority/oauth"
	"github.com/MrEthical07/authority/token"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

type stubProvider struct {
	mu       sync.Mutex
	identity *oauth.Identity
	err      error
}

func (p *stubProvider) AuthCodeURL(req oauth.AuthRequest) string {
	return "https://idp.example/authorize?state=" + url.QueryEscape(req.State)
}

func (p *stubProvider) Exchange(_ context.Context, code string, _ oauth.AuthRequest) (*oauth.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	id := *p.identity
	return &id, nil
}

func (p *stubProvider) set(identity *oauth.Identity, err error) {
	p.mu.Lock()
	p.identity, p.err = identity, err
	p.mu.Unlock()
}

type authorityFixture struct {
	auth      *Authority
	mr        *miniredis.Miniredis
	rdb       *redis.Client
	clock     *testClock
	dir       *directory.Static
	provider  *stubProvider
	sink      *ChannelSink
	principal Principal
}

// advance moves the token clock and the Redis clock together.
func (f *authorityFixture) advance(d time.Duration) {
	f.clock.mu.Lock()
	f.clock.t = f.clock.t.Add(d)
	f.clock.mu.Unlock()
	f.mr.FastForward(d)
}

func testTokenConfig(t testing.TB) TokenConfig {
	t.Helper()
	priv, pub, err := token.GenerateEd25519PEM()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	return TokenConfig{
		AccessTTL:     5 * time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: "ed25519",
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "authority-test",
	}
}

func testConfig(t testing.TB) Config {
	cfg := DefaultConfig()
	cfg.Token = testTokenConfig(t)
	cfg.Session.AbsoluteLifetime = 24 * time.Hour
	cfg.Audit = AuditConfig{Enabled: true, BufferSize: 256, DropIfFull: false}
	return cfg
}

func newAuthorityFixture(t *testing.T, mutate func(*Config)) *authorityFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	principal := Principal{ID: "u1", Email: "ana@example.com", Role: "analyst", Active: true}
	dir := directory.NewStatic(
		principal,
		Principal{ID: "u2", Email: "ben@example.com", Role: "admin", Active: false},
	)
	provider := &stubProvider{identity: &oauth.Identity{Subject: "sub-1", Email: "ana@example.com", EmailVerified: true}}
	clock := &testClock{t: time.UnixMilli(1_700_000_000_000)}
	sink := NewChannelSink(256)

	auth, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPermissions([]string{"reports:view", "sessions:manage"}).
		WithRoles(map[string][]string{
			"analyst": {"reports:view"},
			"admin":   {"reports:view", "sessions:manage"},
		}).
		WithProvider(provider).
		WithDirectory(dir).
		WithAuditSink(sink).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build authority: %v", err)
	}
	t.Cleanup(auth.Close)

	return &authorityFixture{
		auth:      auth,
		mr:        mr,
		rdb:       rdb,
		clock:     clock,
		dir:       dir,
		provider:  provider,
		sink:      sink,
		principal: principal,
	}
}

// login runs the full OAuth handshake from the given device.
func (f *authorityFixture) login(t *testing.T, deviceID string) *LoginResult {
	t.Helper()
	ctx := WithDeviceID(WithClientIP(context.Background(), "203.0.113.7"), deviceID)
	redirect, err := f.auth.InitiateLogin(ctx)
	if err != nil {
		t.Fatalf("initiate login: %v", err)
	}
	res, err := f.auth.HandleCallback(ctx, Callback{Code: "code", State: redirect.State, BoundState: redirect.State})
	if err != nil {
		t.Fatalf("handle callback: %v", err)
	}
	return res
}

// waitForEvent reads audit events until one of type eventType arrives.
func (f *authorityFixture) waitForEvent(t *testing.T, eventType string) AuditEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-f.sink.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("audit event %q not emitted", eventType)
			return AuditEvent{}
		}
	}
}

package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/authority/directory"
	"github.com/MrEthical07/authority/internal"
	"golang.org/x/oauth2"
)

// Directory resolves provider identities to local principals.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (directory.Principal, error)
}

// IssueFunc creates the session for a resolved principal. It runs last, so
// no session exists unless every earlier step succeeded.
type IssueFunc func(ctx context.Context, p directory.Principal) error

// Config configures a [Coordinator].
type Config struct {
	// StateTTL bounds how long a user may take at the provider.
	StateTTL time.Duration
	// ExchangeTimeout bounds the code redemption call.
	ExchangeTimeout time.Duration
	// RequireBoundState demands the browser-bound copy of the state (cookie)
	// on every callback.
	RequireBoundState bool
	// RequireVerifiedEmail rejects identities whose email the provider has
	// not verified.
	RequireVerifiedEmail bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		StateTTL:             10 * time.Minute,
		ExchangeTimeout:      10 * time.Second,
		RequireBoundState:    true,
		RequireVerifiedEmail: true,
	}
}

// Coordinator drives the login handshake. It is safe for concurrent use;
// all per-login state lives in the [StateStore].
type Coordinator struct {
	provider Provider
	states   *StateStore
	dir      Directory
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// NewCoordinator wires a [Coordinator]. now and logger may be nil.
func NewCoordinator(provider Provider, states *StateStore, dir Directory, cfg Config, now func() time.Time, logger *slog.Logger) (*Coordinator, error) {
	if provider == nil || states == nil || dir == nil {
		return nil, errors.New("oauth: provider, state store and directory are required")
	}
	if cfg.StateTTL <= 0 || cfg.ExchangeTimeout <= 0 {
		return nil, errors.New("oauth: state TTL and exchange timeout must be positive")
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinator{provider: provider, states: states, dir: dir, cfg: cfg, now: now, logger: logger}, nil
}

// Redirect is the result of [Coordinator.Begin].
type Redirect struct {
	URL       string
	State     string
	ExpiresAt time.Time
}

// Begin starts a handshake: it persists a fresh state and returns the
// provider authorization URL.
func (c *Coordinator) Begin(ctx context.Context) (*Redirect, error) {
	csrf, err := internal.NewStateToken()
	if err != nil {
		return nil, fail(StateStart, fmt.Errorf("generate state: %w", err))
	}
	nonce, err := internal.NewStateToken()
	if err != nil {
		return nil, fail(StateStart, fmt.Errorf("generate nonce: %w", err))
	}

	now := c.now()
	st := State{
		CSRFToken:    csrf,
		Nonce:        nonce,
		PKCEVerifier: oauth2.GenerateVerifier(),
		CreatedAt:    now,
	}
	if err := c.states.Save(ctx, st, c.cfg.StateTTL); err != nil {
		return nil, fail(StateStart, err)
	}

	return &Redirect{
		URL:       c.provider.AuthCodeURL(AuthRequest{State: st.CSRFToken, Nonce: st.Nonce, Verifier: st.PKCEVerifier}),
		State:     csrf,
		ExpiresAt: now.Add(c.cfg.StateTTL),
	}, nil
}

// Callback is what the provider redirect delivers.
type Callback struct {
	Code  string
	State string
	// BoundState is the state echoed by the browser cookie set in Begin.
	BoundState string
	// ProviderError is the provider's error parameter, if any.
	ProviderError string
}

// Outcome describes a completed handshake.
type Outcome struct {
	State     FlowState
	Principal directory.Principal
	Identity  Identity
}

// Complete finishes a handshake. The stored state is consumed before any
// other check, so a callback can never be replayed.
func (c *Coordinator) Complete(ctx context.Context, cb Callback, issue IssueFunc) (*Outcome, error) {
	if cb.State == "" {
		return nil, fail(StateRejected, ErrCSRFMismatch)
	}

	stored, err := c.states.Consume(ctx, cb.State)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil, fail(StateRejected, ErrCSRFMismatch)
		}
		return nil, fail(StateAwaitingCallback, err)
	}
	if !c.stateMatches(stored, cb) {
		return nil, fail(StateRejected, ErrCSRFMismatch)
	}
	if age := c.now().Sub(stored.CreatedAt); age > c.cfg.StateTTL {
		return nil, fail(StateRejected, ErrCSRFMismatch)
	}

	// StateValidated
	if cb.ProviderError != "" || strings.TrimSpace(cb.Code) == "" {
		c.logger.DebugContext(ctx, "provider returned no code", "provider_error", cb.ProviderError)
		return nil, fail(StateValidated, ErrProviderExchange)
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, c.cfg.ExchangeTimeout)
	identity, err := c.provider.Exchange(exchangeCtx, cb.Code, AuthRequest{
		State:    stored.CSRFToken,
		Nonce:    stored.Nonce,
		Verifier: stored.PKCEVerifier,
	})
	cancel()
	if err != nil {
		c.logger.WarnContext(ctx, "provider exchange failed", "error", err)
		return nil, fail(StateValidated, fmt.Errorf("%w: %v", ErrProviderExchange, err))
	}

	// StateProviderTokenObtained
	if identity == nil || identity.Email == "" {
		return nil, fail(StateProviderTokenObtained, ErrPrincipalNotFound)
	}
	if c.cfg.RequireVerifiedEmail && !identity.EmailVerified {
		return nil, fail(StateProviderTokenObtained, ErrPrincipalNotFound)
	}

	principal, err := c.dir.FindByEmail(ctx, identity.Email)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, fail(StateProviderTokenObtained, ErrPrincipalNotFound)
		}
		return nil, fail(StateProviderTokenObtained, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err))
	}
	if !principal.Active {
		return nil, fail(StateProviderTokenObtained, ErrPrincipalInactive)
	}

	if err := issue(ctx, principal); err != nil {
		return nil, fail(StateFailed, err)
	}

	return &Outcome{State: StateSessionCreated, Principal: principal, Identity: *identity}, nil
}

func (c *Coordinator) stateMatches(stored *State, cb Callback) bool {
	if subtle.ConstantTimeCompare([]byte(stored.CSRFToken), []byte(cb.State)) != 1 {
		return false
	}
	if cb.BoundState == "" {
		return !c.cfg.RequireBoundState
	}
	return subtle.ConstantTimeCompare([]byte(stored.CSRFToken), []byte(cb.BoundState)) == 1
}

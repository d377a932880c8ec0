package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// ErrNonceMismatch is returned when the ID token nonce differs from the one
// sent in the authorization request.
var ErrNonceMismatch = errors.New("ID token nonce does not match expected value")

// OIDCConfig configures an [OIDCProvider].
type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Validate checks required fields.
func (c *OIDCConfig) Validate() error {
	switch {
	case c.Issuer == "":
		return errors.New("issuer is required for OIDC providers")
	case c.ClientID == "":
		return errors.New("client_id is required")
	case c.RedirectURL == "":
		return errors.New("redirect_url is required")
	}
	return nil
}

// OIDCProvider authenticates users against an OpenID Connect issuer using
// the authorization code flow with PKCE.
type OIDCProvider struct {
	oauth2     *oauth2.Config
	verifier   *oidc.IDTokenVerifier
	httpClient *http.Client
	logger     *slog.Logger
}

// OIDCOption configures an [OIDCProvider].
type OIDCOption func(*OIDCProvider)

// WithHTTPClient sets the client used for discovery, token and key requests.
func WithHTTPClient(client *http.Client) OIDCOption {
	return func(p *OIDCProvider) {
		p.httpClient = client
	}
}

// WithLogger sets the logger for discovery and ID token diagnostics.
func WithLogger(logger *slog.Logger) OIDCOption {
	return func(p *OIDCProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func newProvider(opts []OIDCOption) *OIDCProvider {
	p := &OIDCProvider{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func defaultScopes(scopes []string) ([]string, error) {
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	if !slices.Contains(scopes, oidc.ScopeOpenID) {
		return nil, errors.New("openid scope is required for OIDC provider")
	}
	return scopes, nil
}

// NewOIDCProvider discovers the issuer's endpoints and keys.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig, opts ...OIDCOption) (*OIDCProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	scopes, err := defaultScopes(cfg.Scopes)
	if err != nil {
		return nil, err
	}

	p := newProvider(opts)
	p.logger.DebugContext(ctx, "creating OIDC provider", "issuer", cfg.Issuer, "client_id", cfg.ClientID)

	discovered, err := oidc.NewProvider(oidc.ClientContext(ctx, p.httpClient), cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC endpoints: %w", err)
	}

	p.oauth2 = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
		Endpoint:     discovered.Endpoint(),
	}
	p.verifier = discovered.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return p, nil
}

// NewOIDCProviderWithVerifier builds a provider from explicit endpoints and
// an ID token verifier, skipping discovery.
func NewOIDCProviderWithVerifier(cfg OIDCConfig, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier, opts ...OIDCOption) (*OIDCProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if verifier == nil {
		return nil, errors.New("verifier is required")
	}
	scopes, err := defaultScopes(cfg.Scopes)
	if err != nil {
		return nil, err
	}

	p := newProvider(opts)
	p.verifier = verifier
	p.oauth2 = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
		Endpoint:     endpoint,
	}
	return p, nil
}

// AuthCodeURL implements [Provider].
func (p *OIDCProvider) AuthCodeURL(req AuthRequest) string {
	opts := []oauth2.AuthCodeOption{oidc.Nonce(req.Nonce)}
	if req.Verifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(req.Verifier))
	}
	return p.oauth2.AuthCodeURL(req.State, opts...)
}

type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Name          string `json:"name"`
}

// Exchange implements [Provider]. The ID token signature, audience, expiry
// and nonce are all verified.
func (p *OIDCProvider) Exchange(ctx context.Context, code string, req AuthRequest) (*Identity, error) {
	ctx = oidc.ClientContext(ctx, p.httpClient)

	var opts []oauth2.AuthCodeOption
	if req.Verifier != "" {
		opts = append(opts, oauth2.VerifierOption(req.Verifier))
	}
	tok, err := p.oauth2.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	rawID, _ := tok.Extra("id_token").(string)
	if rawID == "" {
		return nil, errors.New("ID token required for OIDC provider")
	}

	idToken, err := p.verifier.Verify(ctx, rawID)
	if err != nil {
		p.logger.DebugContext(ctx, "id token validation failed", "error", err)
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}
	if req.Nonce != "" && idToken.Nonce != req.Nonce {
		return nil, ErrNonceMismatch
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode ID token claims: %w", err)
	}

	// an absent email_verified claim means unverified
	return &Identity{
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified != nil && *claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}

package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 key pair (EdDSA). Production default.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared secret. Intended for tests and local development.
	MethodHS256 SigningMethod = "hs256"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Config configures a [Manager].
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	// KeyID is written to the kid header of issued tokens.
	KeyID string
	// VerifyKeys maps kid to public key. When set, tokens must carry a known kid.
	VerifyKeys map[string][]byte
	// Now defaults to time.Now.
	Now func() time.Time
}

// Claims is the verified content of a token. Claims are immutable once issued.
type Claims struct {
	PrincipalID string   `json:"pid"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"perms,omitempty"`
	SessionID   string   `json:"sid"`
	Kind        Kind     `json:"typ"`
	// SessionDeadline is the absolute end of the session, carried on
	// refresh tokens so rotation never extends it.
	SessionDeadline *jwt.NumericDate `json:"sxp,omitempty"`
	jwt.RegisteredClaims
}

// TokenID returns the jti claim.
func (c *Claims) TokenID() string { return c.ID }

// IssuedAtTime returns the iat claim or the zero time.
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// SessionDeadlineTime returns the sxp claim or the zero time.
func (c *Claims) SessionDeadlineTime() time.Time {
	if c.SessionDeadline == nil {
		return time.Time{}
	}
	return c.SessionDeadline.Time
}

// ExpiresAtTime returns the exp claim or the zero time.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Subject describes who a token pair is minted for.
type Subject struct {
	PrincipalID string
	Role        string
	Permissions []string
	SessionID   string
}

// Token is a signed token together with the metadata needed to track it.
type Token struct {
	Value     string
	ID        string
	ExpiresAt time.Time
}

// Pair is an access token and its companion refresh token.
type Pair struct {
	Access  Token
	Refresh Token
}

// Manager signs and verifies tokens. It is safe for concurrent use.
type Manager struct {
	config  Config
	signKey interface{}
	now     func() time.Time
}

// NewManager validates cfg and returns a ready [Manager].
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must not be shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg, now: cfg.Now}
	if m.now == nil {
		m.now = time.Now
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a secret of at least 32 bytes")
		}
		m.signKey = cfg.PrivateKey
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			m.signKey = priv
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return m, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

// Issue mints a new access/refresh pair for sub at now. When notAfter is
// non-zero the refresh token never outlives it.
func (m *Manager) Issue(sub Subject, now time.Time, notAfter time.Time) (Pair, error) {
	if sub.PrincipalID == "" || sub.SessionID == "" {
		return Pair{}, errors.New("token subject requires principal and session id")
	}

	access, err := m.sign(sub, KindAccess, now, now.Add(m.config.AccessTTL), time.Time{})
	if err != nil {
		return Pair{}, err
	}

	refreshExp := now.Add(m.config.RefreshTTL)
	if !notAfter.IsZero() && notAfter.Before(refreshExp) {
		refreshExp = notAfter
	}
	if !refreshExp.After(now) {
		return Pair{}, errors.New("refresh expiry is not in the future")
	}
	refresh, err := m.sign(sub, KindRefresh, now, refreshExp, notAfter)
	if err != nil {
		return Pair{}, err
	}

	return Pair{Access: access, Refresh: refresh}, nil
}

func (m *Manager) sign(sub Subject, kind Kind, now, exp, deadline time.Time) (Token, error) {
	if m.signKey == nil {
		return Token{}, errors.New("manager has no signing key")
	}

	claims := Claims{
		PrincipalID: sub.PrincipalID,
		Role:        sub.Role,
		SessionID:   sub.SessionID,
		Kind:        kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   sub.PrincipalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    m.config.Issuer,
		},
	}
	if !deadline.IsZero() {
		claims.SessionDeadline = jwt.NewNumericDate(deadline)
	}
	if kind == KindAccess && len(sub.Permissions) > 0 {
		claims.Permissions = append([]string(nil), sub.Permissions...)
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	tok := jwt.NewWithClaims(m.method(), claims)
	if m.config.KeyID != "" {
		tok.Header["kid"] = m.config.KeyID
	}

	signed, err := tok.SignedString(m.signKey)
	if err != nil {
		return Token{}, fmt.Errorf("sign %s token: %w", kind, err)
	}

	return Token{Value: signed, ID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// ParseAccess verifies an access token and returns its claims.
func (m *Manager) ParseAccess(tokenStr string) (*Claims, error) {
	return m.parse(tokenStr, KindAccess)
}

// ParseRefresh verifies a refresh token and returns its claims.
func (m *Manager) ParseRefresh(tokenStr string) (*Claims, error) {
	return m.parse(tokenStr, KindRefresh)
}

func (m *Manager) parse(tokenStr string, want Kind) (*Claims, error) {
	if strings.TrimSpace(tokenStr) == "" {
		return nil, ErrMalformed
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, m.keyFunc)
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrMalformed
	}
	if claims.Kind != want || claims.ID == "" || claims.PrincipalID == "" || claims.SessionID == "" {
		return nil, ErrMalformed
	}

	return claims, nil
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != m.method().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(m.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := m.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return m.verifyKey(key)
	}

	if m.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != m.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	return m.verifyKey(m.config.PublicKey)
}

func (m *Manager) method() jwt.SigningMethod {
	if m.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (m *Manager) verifyKey(key []byte) (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return key, nil
	}
	return parseEdPublicKey(key)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}

package authority

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every tunable of an [Authority]. Start from [DefaultConfig].
type Config struct {
	Token      TokenConfig
	Session    SessionConfig
	Store      StoreConfig
	RateLimit  RateLimitConfig
	OAuth      OAuthConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
	Permission PermissionConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig configures token signing and verification.
type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default), "hs256" for tests
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	// KeyID is written to the kid header. With VerifyKeys it enables key
	// rotation: tokens signed by any listed key keep verifying.
	KeyID      string
	VerifyKeys map[string][]byte
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures the session store.
type SessionConfig struct {
	// MaxConcurrent caps live sessions per principal.
	MaxConcurrent int
	// AbsoluteLifetime bounds a session across refreshes. Zero disables it.
	AbsoluteLifetime time.Duration
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig configures the shared key/value store.
type StoreConfig struct {
	// KeyPrefix namespaces every key written by the Authority.
	KeyPrefix string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RatePolicy allows Limit operations per Window and client.
type RatePolicy struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig holds one budget per rate limited operation.
type RateLimitConfig struct {
	Enabled  bool
	Login    RatePolicy
	Callback RatePolicy
	Refresh  RatePolicy
}

/*
====================================
OAUTH CONFIG
====================================
*/

// OAuthConfig configures the login handshake.
type OAuthConfig struct {
	StateTTL             time.Duration
	ExchangeTimeout      time.Duration
	RequireBoundState    bool
	RequireVerifiedEmail bool
}

/*
====================================
AUDIT / METRICS / PERMISSION
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig enables in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// PermissionConfig configures the permission registry.
type PermissionConfig struct {
	// RootBitReserved makes the "*" permission grant every other one.
	RootBitReserved bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults. Signing keys must still be set.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Leeway:        5 * time.Second,
		},
		Session: SessionConfig{
			MaxConcurrent:    3,
			AbsoluteLifetime: 30 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Login:    RatePolicy{Limit: 10, Window: time.Minute},
			Callback: RatePolicy{Limit: 10, Window: time.Minute},
			Refresh:  RatePolicy{Limit: 30, Window: time.Minute},
		},
		OAuth: OAuthConfig{
			StateTTL:             10 * time.Minute,
			ExchangeTimeout:      10 * time.Second,
			RequireBoundState:    true,
			RequireVerifiedEmail: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Permission: PermissionConfig{
			RootBitReserved: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	if cfg.Token.VerifyKeys != nil {
		out.Token.VerifyKeys = make(map[string][]byte, len(cfg.Token.VerifyKeys))
		for kid, key := range cfg.Token.VerifyKeys {
			out.Token.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	if c.Token.RefreshTTL < c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must be >= AccessTTL")
	}
	switch c.Token.SigningMethod {
	case "ed25519":
		if len(c.Token.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.Token.PublicKey) == 0 && len(c.Token.VerifyKeys) == 0 {
			return errors.New("ed25519 requires PublicKey or VerifyKeys")
		}
	case "hs256":
		if len(c.Token.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	default:
		return errors.New("unsupported Token signing method")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be within [0, 2m]")
	}

	// Session
	if c.Session.MaxConcurrent <= 0 {
		return errors.New("Session MaxConcurrent must be > 0")
	}
	if c.Session.AbsoluteLifetime < 0 {
		return errors.New("Session AbsoluteLifetime must be >= 0")
	}
	if c.Session.AbsoluteLifetime > 0 && c.Session.AbsoluteLifetime < c.Token.AccessTTL {
		return errors.New("Session AbsoluteLifetime must be >= Token AccessTTL")
	}

	// Store
	if strings.ContainsAny(c.Store.KeyPrefix, " \t\r\n") {
		return errors.New("Store KeyPrefix must not contain whitespace")
	}

	// Rate limits
	if c.RateLimit.Enabled {
		for name, p := range map[string]RatePolicy{
			"Login":    c.RateLimit.Login,
			"Callback": c.RateLimit.Callback,
			"Refresh":  c.RateLimit.Refresh,
		} {
			if p.Limit <= 0 || p.Window <= 0 {
				return fmt.Errorf("RateLimit %s requires Limit > 0 and Window > 0", name)
			}
		}
	}

	// OAuth
	if c.OAuth.StateTTL <= 0 {
		return errors.New("OAuth StateTTL must be > 0")
	}
	if c.OAuth.ExchangeTimeout <= 0 {
		return errors.New("OAuth ExchangeTimeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}

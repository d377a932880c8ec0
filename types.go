package authority

import (
	"context"
	"time"

	"github.com/MrEthical07/authority/directory"
	"github.com/MrEthical07/authority/oauth"
	"github.com/MrEthical07/authority/token"
)

// Principal is an identity the Authority issues sessions for.
type Principal = directory.Principal

// TokenClaims is the verified content of an access token.
type TokenClaims = token.Claims

// Directory resolves principals. FindByID is consulted on refresh so that
// disabled principals and role changes take effect without a new login.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (Principal, error)
	FindByID(ctx context.Context, id string) (Principal, error)
}

// IdentityProvider is the upstream OAuth/OIDC provider.
type IdentityProvider = oauth.Provider

// LoginResult is the success payload of login and refresh.
type LoginResult struct {
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	SessionID        string
	Principal        Principal
}

// LoginRedirect starts a login: send the user agent to URL and bind State
// to it (typically in a cookie).
type LoginRedirect struct {
	URL       string
	State     string
	ExpiresAt time.Time
}

// Callback carries the provider redirect parameters.
type Callback struct {
	Code          string
	State         string
	BoundState    string
	ProviderError string
}

// SessionInfo is the caller-visible view of a session.
type SessionInfo struct {
	SessionID      string
	DeviceID       string
	ClientIP       string
	IssuedAt       time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
}

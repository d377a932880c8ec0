package oauth

import "context"

// AuthRequest carries the per-login secrets a provider needs to build the
// authorization URL and to redeem the code.
type AuthRequest struct {
	State    string
	Nonce    string
	Verifier string
}

// Identity is what the provider asserts about the user.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// Provider is an external identity provider.
type Provider interface {
	// AuthCodeURL returns the URL the browser is redirected to.
	AuthCodeURL(req AuthRequest) string
	// Exchange redeems code and returns the verified identity.
	Exchange(ctx context.Context, code string, req AuthRequest) (*Identity, error)
}

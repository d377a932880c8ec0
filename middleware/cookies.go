package middleware

import (
	"net/http"
	"time"

	"github.com/MrEthical07/authority"
)

// CookieConfig names and scopes the cookies the handlers set. Token cookies
// are always HttpOnly and SameSite=Strict. The state cookie is SameSite=Lax
// because it must survive the top-level redirect back from the provider.
type CookieConfig struct {
	AccessName  string
	RefreshName string
	StateName   string
	Domain      string
	Path        string
	// Insecure drops the Secure attribute. Only for plain-HTTP development.
	Insecure bool
}

// DefaultCookieConfig returns the production cookie names.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		AccessName:  "authority_access",
		RefreshName: "authority_refresh",
		StateName:   "authority_state",
		Path:        "/",
	}
}

func (c CookieConfig) accessName() string {
	if c.AccessName == "" {
		return "authority_access"
	}
	return c.AccessName
}

func (c CookieConfig) refreshName() string {
	if c.RefreshName == "" {
		return "authority_refresh"
	}
	return c.RefreshName
}

func (c CookieConfig) stateName() string {
	if c.StateName == "" {
		return "authority_state"
	}
	return c.StateName
}

func (c CookieConfig) path() string {
	if c.Path == "" {
		return "/"
	}
	return c.Path
}

func (c CookieConfig) cookie(name, value string, expires time.Time, sameSite http.SameSite) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.path(),
		Domain:   c.Domain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   !c.Insecure,
		SameSite: sameSite,
	}
}

func (c CookieConfig) setTokens(w http.ResponseWriter, res *authority.LoginResult) {
	http.SetCookie(w, c.cookie(c.accessName(), res.AccessToken, res.ExpiresAt, http.SameSiteStrictMode))
	http.SetCookie(w, c.cookie(c.refreshName(), res.RefreshToken, res.RefreshExpiresAt, http.SameSiteStrictMode))
}

func (c CookieConfig) setState(w http.ResponseWriter, state string, expires time.Time) {
	http.SetCookie(w, c.cookie(c.stateName(), state, expires, http.SameSiteLaxMode))
}

func (c CookieConfig) clear(w http.ResponseWriter, names ...string) {
	for _, name := range names {
		ck := c.cookie(name, "", time.Unix(0, 0), http.SameSiteStrictMode)
		ck.MaxAge = -1
		http.SetCookie(w, ck)
	}
}

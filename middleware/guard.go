package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/authority"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by [Guard].
func ClaimsFromContext(ctx context.Context) (*authority.TokenClaims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*authority.TokenClaims)
	return c, ok
}

// Guard verifies the access token of every request, taken from the
// Authorization bearer header or, failing that, the access cookie. Rejected
// requests get one uniform 401 regardless of why the token failed.
func Guard(auth *authority.Authority, cookies CookieConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				WriteError(w, authority.ErrInvalidCredentials)
				return
			}

			token, ok := accessToken(r, cookies)
			if !ok {
				WriteError(w, authority.ErrInvalidCredentials)
				return
			}

			claims, err := auth.Verify(r.Context(), token)
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission rejects requests whose verified claims lack perm. It
// must run after [Guard].
func RequirePermission(auth *authority.Authority, perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				WriteError(w, authority.ErrInvalidCredentials)
				return
			}
			if !auth.HasPermission(claims, perm) {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestContext copies the client address, user agent, device id and
// request id onto the request context so that sessions, rate limits and
// audit events see them. Mount it after chi's RequestID and RealIP.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = authority.WithClientIP(ctx, remoteIP(r.RemoteAddr))
		ctx = authority.WithUserAgent(ctx, r.UserAgent())
		if device := r.Header.Get(DeviceIDHeader); device != "" {
			ctx = authority.WithDeviceID(ctx, device)
		}
		if id := chimw.GetReqID(ctx); id != "" {
			ctx = authority.WithCorrelationID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DeviceIDHeader lets clients name the device a session belongs to.
const DeviceIDHeader = "X-Device-ID"

func accessToken(r *http.Request, cookies CookieConfig) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	if c, err := r.Cookie(cookies.accessName()); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

package middleware

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// TrustedRealIP rewrites the client address from X-Forwarded-For,
// X-Real-IP or True-Client-IP only when the socket peer is one of proxies.
// Entries are CIDRs or bare addresses. With no proxies every forwarding
// header is ignored, so rate limits stay keyed by the socket address.
func TrustedRealIP(proxies []string) (func(http.Handler) http.Handler, error) {
	prefixes, err := parseProxies(proxies)
	if err != nil {
		return nil, err
	}
	return func(next http.Handler) http.Handler {
		if len(prefixes) == 0 {
			return next
		}
		forwarded := chimw.RealIP(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if fromProxy(prefixes, r.RemoteAddr) {
				forwarded.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

func parseProxies(proxies []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range proxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func fromProxy(prefixes []netip.Prefix, remoteAddr string) bool {
	addr, err := netip.ParseAddr(remoteIP(remoteAddr))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

package middleware

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/MrEthical07/authority"
)

type errorBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// WriteError renders err as a JSON error response. Every token failure maps
// to the same 401 body so that clients cannot tell an expired token from a
// revoked or forged one.
func WriteError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	if body.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfter))
	}
	writeJSON(w, status, body)
}

func errorResponse(err error) (int, errorBody) {
	switch {
	case authority.IsUnauthenticated(err):
		return http.StatusUnauthorized, errorBody{Error: "unauthenticated"}
	case errors.Is(err, authority.ErrRateLimited):
		wait, _ := authority.RetryAfter(err)
		secs := int(math.Ceil(wait.Seconds()))
		if secs < 1 {
			secs = 1
		}
		return http.StatusTooManyRequests, errorBody{Error: "rate_limited", RetryAfter: secs}
	case errors.Is(err, authority.ErrCSRFMismatch):
		return http.StatusBadRequest, errorBody{Error: "invalid_state"}
	case errors.Is(err, authority.ErrProviderExchangeFailed):
		return http.StatusBadGateway, errorBody{Error: "login_failed"}
	case errors.Is(err, authority.ErrPrincipalInactive):
		return http.StatusForbidden, errorBody{Error: "forbidden"}
	case errors.Is(err, authority.ErrLoginUnavailable):
		return http.StatusNotFound, errorBody{Error: "login_unavailable"}
	case errors.Is(err, authority.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, errorBody{Error: "unavailable"}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal_error"}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

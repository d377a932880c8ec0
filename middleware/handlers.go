package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/authority"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 8 << 10

// Handlers exposes the Authority operations over HTTP.
type Handlers struct {
	auth    *authority.Authority
	cookies CookieConfig
	logger  *slog.Logger
}

// NewHandlers creates the HTTP handlers. logger may be nil.
func NewHandlers(auth *authority.Authority, cookies CookieConfig, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handlers{auth: auth, cookies: cookies, logger: logger}
}

// Routes returns a router with all auth endpoints registered under /auth.
func (h *Handlers) Routes() http.Handler {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

// Register mounts the auth endpoints under /auth on r. Mount chi's
// RequestID and RealIP on r first so that audit events and rate limits see
// them.
func (h *Handlers) Register(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Use(RequestContext)

		r.Get("/login", h.LoginRedirectHandler)
		r.Post("/login", h.LoginHandler)
		r.Get("/callback", h.CallbackHandler)
		r.Post("/refresh", h.RefreshHandler)
		r.Post("/logout", h.LogoutHandler)

		r.Group(func(r chi.Router) {
			r.Use(Guard(h.auth, h.cookies))
			r.Get("/sessions", h.SessionsHandler)
			r.Post("/logout-all", h.LogoutAllHandler)
		})
	})
}

type loginResponse struct {
	RedirectURL string    `json:"redirect_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type principalResponse struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

type tokenResponse struct {
	AccessToken      string            `json:"access_token"`
	RefreshToken     string            `json:"refresh_token"`
	TokenType        string            `json:"token_type"`
	ExpiresAt        time.Time         `json:"expires_at"`
	RefreshExpiresAt time.Time         `json:"refresh_expires_at"`
	SessionID        string            `json:"session_id"`
	Principal        principalResponse `json:"principal"`
}

type sessionResponse struct {
	SessionID      string    `json:"session_id"`
	DeviceID       string    `json:"device_id"`
	ClientIP       string    `json:"client_ip,omitempty"`
	IssuedAt       time.Time `json:"issued_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Current        bool      `json:"current"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LoginHandler starts a login and returns the provider URL as JSON. The
// state is bound to the browser with a cookie.
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	redirect, err := h.auth.InitiateLogin(r.Context())
	if err != nil {
		h.fail(w, r, "initiate login", err)
		return
	}
	h.cookies.setState(w, redirect.State, redirect.ExpiresAt)
	writeJSON(w, http.StatusOK, loginResponse{RedirectURL: redirect.URL, ExpiresAt: redirect.ExpiresAt})
}

// LoginRedirectHandler starts a login and redirects the browser straight to
// the provider.
func (h *Handlers) LoginRedirectHandler(w http.ResponseWriter, r *http.Request) {
	redirect, err := h.auth.InitiateLogin(r.Context())
	if err != nil {
		h.fail(w, r, "initiate login", err)
		return
	}
	h.cookies.setState(w, redirect.State, redirect.ExpiresAt)
	http.Redirect(w, r, redirect.URL, http.StatusFound)
}

// CallbackHandler completes the handshake. The state cookie is cleared
// whatever the outcome.
func (h *Handlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cb := authority.Callback{
		Code:          q.Get("code"),
		State:         q.Get("state"),
		ProviderError: q.Get("error"),
	}
	if c, err := r.Cookie(h.cookies.stateName()); err == nil {
		cb.BoundState = c.Value
	}
	h.cookies.clear(w, h.cookies.stateName())

	res, err := h.auth.HandleCallback(r.Context(), cb)
	if err != nil {
		h.fail(w, r, "callback", err)
		return
	}
	h.writeTokens(w, res)
}

// RefreshHandler rotates a refresh token read from the JSON body or, when
// the body is empty, from the refresh cookie.
func (h *Handlers) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request"})
		return
	}
	if req.RefreshToken == "" {
		if c, err := r.Cookie(h.cookies.refreshName()); err == nil {
			req.RefreshToken = c.Value
		}
	}
	if req.RefreshToken == "" {
		WriteError(w, authority.ErrInvalidCredentials)
		return
	}

	res, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if authority.IsUnauthenticated(err) {
			h.cookies.clear(w, h.cookies.accessName(), h.cookies.refreshName())
		}
		h.fail(w, r, "refresh", err)
		return
	}
	h.writeTokens(w, res)
}

// LogoutHandler ends the session of the presented access token.
func (h *Handlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	token, ok := accessToken(r, h.cookies)
	if !ok {
		WriteError(w, authority.ErrInvalidCredentials)
		return
	}
	h.cookies.clear(w, h.cookies.accessName(), h.cookies.refreshName())
	if err := h.auth.Logout(r.Context(), token); err != nil {
		h.fail(w, r, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAllHandler ends every session of the authenticated principal.
func (h *Handlers) LogoutAllHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	n, err := h.auth.LogoutAll(r.Context(), claims.PrincipalID)
	if err != nil {
		h.fail(w, r, "logout all", err)
		return
	}
	h.cookies.clear(w, h.cookies.accessName(), h.cookies.refreshName())
	writeJSON(w, http.StatusOK, map[string]int{"sessions_ended": n})
}

// SessionsHandler lists the live sessions of the authenticated principal.
func (h *Handlers) SessionsHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	list, err := h.auth.Sessions(r.Context(), claims.PrincipalID)
	if err != nil {
		h.fail(w, r, "list sessions", err)
		return
	}
	out := make([]sessionResponse, 0, len(list))
	for _, s := range list {
		out = append(out, sessionResponse{
			SessionID:      s.SessionID,
			DeviceID:       s.DeviceID,
			ClientIP:       s.ClientIP,
			IssuedAt:       s.IssuedAt,
			LastActivityAt: s.LastActivityAt,
			ExpiresAt:      s.ExpiresAt,
			Current:        s.SessionID == claims.SessionID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *Handlers) writeTokens(w http.ResponseWriter, res *authority.LoginResult) {
	h.cookies.setTokens(w, res)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		TokenType:        "Bearer",
		ExpiresAt:        res.ExpiresAt,
		RefreshExpiresAt: res.RefreshExpiresAt,
		SessionID:        res.SessionID,
		Principal: principalResponse{
			ID:    res.Principal.ID,
			Email: res.Principal.Email,
			Role:  res.Principal.Role,
		},
	})
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, _ := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "auth request failed", "op", op, "error", err)
	} else {
		h.logger.DebugContext(r.Context(), "auth request rejected", "op", op, "error", err)
	}
	WriteError(w, err)
}

package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/authority/directory"
	"github.com/MrEthical07/authority/internal"
	"github.com/MrEthical07/authority/internal/audit"
	"github.com/MrEthical07/authority/internal/rate"
	"github.com/MrEthical07/authority/oauth"
	"github.com/MrEthical07/authority/permission"
	"github.com/MrEthical07/authority/revocation"
	"github.com/MrEthical07/authority/session"
	"github.com/MrEthical07/authority/token"
)

// Authority issues, verifies, rotates and revokes sessions. It is safe for
// concurrent use; all shared state lives in Redis.
type Authority struct {
	config Config

	tokens      *token.Manager
	sessions    *session.Store
	revocations *revocation.Registry
	limiter     *rate.Limiter
	coordinator *oauth.Coordinator

	registry    *permission.Registry
	roleManager *permission.RoleManager
	directory   Directory

	audit   *audit.Dispatcher
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

/*
====================================
LOGIN
====================================
*/

// InitiateLogin starts an OAuth handshake and returns where to send the
// user agent.
func (a *Authority) InitiateLogin(ctx context.Context) (*LoginRedirect, error) {
	if a.coordinator == nil {
		return nil, ErrLoginUnavailable
	}
	if err := a.consume(ctx, rate.OpLogin); err != nil {
		return nil, err
	}

	r, err := a.coordinator.Begin(ctx)
	if err != nil {
		err = mapOAuthError(err)
		a.metricFailure(err)
		return nil, err
	}

	a.metrics.Inc(MetricLoginStarted)
	a.emitAudit(ctx, AuditEvent{EventType: AuditEventLoginStarted}, nil)
	return &LoginRedirect{URL: r.URL, State: r.State, ExpiresAt: r.ExpiresAt}, nil
}

// HandleCallback completes the handshake and, on success, creates a session
// for the resolved principal.
func (a *Authority) HandleCallback(ctx context.Context, cb Callback) (*LoginResult, error) {
	if a.coordinator == nil {
		return nil, ErrLoginUnavailable
	}
	if err := a.consume(ctx, rate.OpCallback); err != nil {
		return nil, err
	}

	var result *LoginResult
	outcome, err := a.coordinator.Complete(ctx, oauth.Callback{
		Code:          cb.Code,
		State:         cb.State,
		BoundState:    cb.BoundState,
		ProviderError: cb.ProviderError,
	}, func(ctx context.Context, p directory.Principal) error {
		r, err := a.IssueSession(ctx, p)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		err = mapOAuthError(err)
		a.metricFailure(err)
		a.metrics.Inc(MetricLoginFailure)
		a.emitAudit(ctx, AuditEvent{EventType: AuditEventLoginFailure, Metadata: flowMetadata(err)}, err)
		a.log(ctx).InfoContext(ctx, "login rejected", "error", err)
		return nil, err
	}

	a.log(ctx).InfoContext(ctx, "login succeeded",
		"principal_id", outcome.Principal.ID,
		"session_id", result.SessionID,
	)
	return result, nil
}

// IssueSession creates a session for a principal the caller has already
// authenticated. When the principal is at the session cap, the least
// recently active session is evicted and its tokens revoked; the new login
// still succeeds.
func (a *Authority) IssueSession(ctx context.Context, p Principal) (*LoginResult, error) {
	if p.ID == "" {
		return nil, ErrInvalidCredentials
	}
	if !p.Active {
		return nil, ErrPrincipalInactive
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	now := a.now()
	var notAfter time.Time
	if a.config.Session.AbsoluteLifetime > 0 {
		notAfter = now.Add(a.config.Session.AbsoluteLifetime)
	}

	// tokens are minted before the session record becomes visible
	pair, err := a.tokens.Issue(token.Subject{
		PrincipalID: p.ID,
		Role:        p.Role,
		Permissions: a.roleManager.Permissions(p.Role),
		SessionID:   sid,
	}, now, notAfter)
	if err != nil {
		return nil, err
	}

	deviceID := internal.DeviceID(deviceIDFromContext(ctx), userAgentFromContext(ctx))
	sess := &session.Session{
		PrincipalID:      p.ID,
		SessionID:        sid,
		Role:             p.Role,
		AccessTokenID:    pair.Access.ID,
		AccessExpiresAt:  pair.Access.ExpiresAt,
		RefreshTokenID:   pair.Refresh.ID,
		RefreshExpiresAt: pair.Refresh.ExpiresAt,
		IssuedAt:         now,
		ExpiresAt:        pair.Refresh.ExpiresAt,
		LastActivityAt:   now,
		ClientIP:         clientIPFromContext(ctx),
		DeviceID:         deviceID,
	}

	evicted, err := a.sessions.Create(ctx, sess)
	if err != nil {
		return nil, a.storageError(ctx, "create session", err)
	}
	a.metrics.Inc(MetricSessionCreated)

	if len(evicted) > 0 {
		a.revokeRemoved(ctx, evicted...)
		for _, ev := range evicted {
			a.metrics.Inc(MetricSessionEvicted)
			a.emitAudit(ctx, AuditEvent{
				EventType:   AuditEventSessionEvicted,
				PrincipalID: ev.PrincipalID,
				SessionID:   ev.SessionID,
				DeviceID:    ev.DeviceID,
				Metadata: map[string]string{
					"reason":           "session_limit_reached",
					"new_session_id":   sess.SessionID,
					"last_activity_at": ev.LastActivityAt.UTC().Format(time.RFC3339),
				},
			}, ErrSessionLimitReached)
		}
		a.log(ctx).InfoContext(ctx, "sessions evicted by limit",
			"principal_id", p.ID,
			"evicted", len(evicted),
		)
	}

	a.metrics.Inc(MetricLoginSuccess)
	a.emitAudit(ctx, AuditEvent{
		EventType:   AuditEventLoginSuccess,
		PrincipalID: p.ID,
		SessionID:   sess.SessionID,
		DeviceID:    deviceID,
	}, nil)

	return &LoginResult{
		AccessToken:      pair.Access.Value,
		RefreshToken:     pair.Refresh.Value,
		ExpiresAt:        pair.Access.ExpiresAt,
		RefreshExpiresAt: pair.Refresh.ExpiresAt,
		SessionID:        sess.SessionID,
		Principal:        p,
	}, nil
}

/*
====================================
VERIFY
====================================
*/

// Verify authenticates an access token: signature, then expiry, then the
// revocation registry, then the session. A successful call marks the
// session active.
func (a *Authority) Verify(ctx context.Context, accessToken string) (*TokenClaims, error) {
	start := time.Now()
	claims, err := a.verify(ctx, accessToken)
	a.metrics.Observe(MetricVerifyLatency, time.Since(start))
	if err != nil {
		a.metricFailure(err)
		a.metrics.Inc(MetricVerifyFailure)
		return nil, err
	}
	a.metrics.Inc(MetricVerifySuccess)
	return claims, nil
}

func (a *Authority) verify(ctx context.Context, accessToken string) (*TokenClaims, error) {
	claims, err := a.tokens.ParseAccess(accessToken)
	if err != nil {
		return nil, mapTokenError(err)
	}

	revoked, err := a.revocations.Contains(ctx, claims.ID)
	if err != nil {
		return nil, a.storageError(ctx, "revocation lookup", err)
	}
	if revoked {
		a.metrics.Inc(MetricRevokedTokenRejected)
		return nil, ErrTokenRevoked
	}

	active, err := a.sessions.Touch(ctx, claims.PrincipalID, claims.SessionID)
	if err != nil {
		return nil, a.storageError(ctx, "session touch", err)
	}
	if !active {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// HasPermission reports whether verified claims grant perm.
func (a *Authority) HasPermission(claims *TokenClaims, perm string) bool {
	if claims == nil {
		return false
	}
	for _, p := range claims.Permissions {
		if p == perm || (a.config.Permission.RootBitReserved && p == permission.RootPermission) {
			return true
		}
	}
	return false
}

/*
====================================
REFRESH
====================================
*/

// Refresh rotates a refresh token. The old refresh token is revoked and
// can never be used again; presenting it after rotation destroys the
// session. A refresh token never resurrects a deleted or evicted session.
func (a *Authority) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if err := a.consume(ctx, rate.OpRefresh); err != nil {
		return nil, err
	}

	res, err := a.refresh(ctx, refreshToken)
	if err != nil {
		a.metricFailure(err)
		a.metrics.Inc(MetricRefreshFailure)
		a.emitAudit(ctx, AuditEvent{EventType: AuditEventRefreshFailure}, err)
		return nil, err
	}

	a.metrics.Inc(MetricRefreshSuccess)
	a.emitAudit(ctx, AuditEvent{
		EventType:   AuditEventRefreshSuccess,
		PrincipalID: res.Principal.ID,
		SessionID:   res.SessionID,
	}, nil)
	return res, nil
}

func (a *Authority) refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	claims, err := a.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil, mapTokenError(err)
	}

	revoked, err := a.revocations.Contains(ctx, claims.ID)
	if err != nil {
		return nil, a.storageError(ctx, "revocation lookup", err)
	}
	if revoked {
		if err := a.detectReuse(ctx, claims); err != nil {
			return nil, err
		}
		return nil, ErrTokenRevoked
	}

	principal := Principal{ID: claims.PrincipalID, Role: claims.Role, Active: true}
	if a.directory != nil {
		p, err := a.directory.FindByID(ctx, claims.PrincipalID)
		switch {
		case errors.Is(err, directory.ErrNotFound):
			return nil, a.endSession(ctx, claims, ErrInvalidCredentials)
		case err != nil:
			return nil, a.storageError(ctx, "directory lookup", err)
		case !p.Active:
			return nil, a.endSession(ctx, claims, ErrPrincipalInactive)
		}
		principal = p
	}

	// the new refresh token keeps the session's absolute deadline
	now := a.now()
	deadline := claims.SessionDeadlineTime()
	if !deadline.IsZero() && !deadline.After(now) {
		return nil, ErrTokenExpired
	}
	pair, err := a.tokens.Issue(token.Subject{
		PrincipalID: principal.ID,
		Role:        principal.Role,
		Permissions: a.roleManager.Permissions(principal.Role),
		SessionID:   claims.SessionID,
	}, now, deadline)
	if err != nil {
		return nil, err
	}

	_, removed, err := a.sessions.Rotate(ctx, session.Rotation{
		PrincipalID:      claims.PrincipalID,
		SessionID:        claims.SessionID,
		PresentedID:      claims.ID,
		AccessTokenID:    pair.Access.ID,
		AccessExpiresAt:  pair.Access.ExpiresAt,
		RefreshTokenID:   pair.Refresh.ID,
		RefreshExpiresAt: pair.Refresh.ExpiresAt,
	})
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return nil, ErrTokenRevoked
	case errors.Is(err, session.ErrRefreshReuse):
		a.onReuse(ctx, claims, removed)
		return nil, ErrTokenRevoked
	case err != nil:
		return nil, a.storageError(ctx, "rotate session", err)
	}

	// the session no longer accepts the old id; the entry makes the
	// rejection explicit until the token would have expired anyway
	if err := a.revocations.Add(ctx, claims.ID, claims.ExpiresAtTime()); err != nil {
		a.log(ctx).WarnContext(ctx, "revoke rotated refresh token failed",
			"session_id", claims.SessionID,
			"error", err,
		)
	}

	return &LoginResult{
		AccessToken:      pair.Access.Value,
		RefreshToken:     pair.Refresh.Value,
		ExpiresAt:        pair.Access.ExpiresAt,
		RefreshExpiresAt: pair.Refresh.ExpiresAt,
		SessionID:        claims.SessionID,
		Principal:        principal,
	}, nil
}

// endSession deletes the refreshed session and revokes its tokens when the
// principal may no longer hold it, then returns cause.
func (a *Authority) endSession(ctx context.Context, claims *TokenClaims, cause error) error {
	removed, err := a.sessions.Delete(ctx, claims.SessionID)
	if err != nil {
		return a.storageError(ctx, "delete session", err)
	}
	if removed != nil {
		a.revokeRemoved(ctx, *removed)
	}
	a.log(ctx).InfoContext(ctx, "session ended by directory",
		"principal_id", claims.PrincipalID,
		"session_id", claims.SessionID,
		"reason", auditErrorCode(cause),
	)
	return cause
}

// detectReuse handles a revoked refresh token whose session still exists
// under a newer refresh id: the token was stolen or replayed, so the
// session is destroyed.
func (a *Authority) detectReuse(ctx context.Context, claims *TokenClaims) error {
	sess, err := a.sessions.Get(ctx, claims.SessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return a.storageError(ctx, "session lookup", err)
	}
	if sess.PrincipalID != claims.PrincipalID || sess.RefreshTokenID == claims.ID {
		return nil
	}

	removed, err := a.sessions.Delete(ctx, claims.SessionID)
	if err != nil {
		return a.storageError(ctx, "delete reused session", err)
	}
	a.onReuse(ctx, claims, removed)
	return nil
}

func (a *Authority) onReuse(ctx context.Context, claims *TokenClaims, removed *session.Removed) {
	if removed != nil {
		a.revokeRemoved(ctx, *removed)
	}
	a.metrics.Inc(MetricRefreshReuseDetected)
	a.emitAudit(ctx, AuditEvent{
		EventType:   AuditEventRefreshReuse,
		PrincipalID: claims.PrincipalID,
		SessionID:   claims.SessionID,
	}, ErrTokenRevoked)
	a.log(ctx).WarnContext(ctx, "refresh token reuse detected",
		"principal_id", claims.PrincipalID,
		"session_id", claims.SessionID,
	)
}

/*
====================================
LOGOUT
====================================
*/

// Logout ends the session of accessToken and revokes its tokens for their
// remaining lifetime. Logging out twice returns ErrTokenRevoked.
func (a *Authority) Logout(ctx context.Context, accessToken string) error {
	claims, err := a.tokens.ParseAccess(accessToken)
	if err != nil {
		return mapTokenError(err)
	}

	revoked, err := a.revocations.Contains(ctx, claims.ID)
	if err != nil {
		return a.storageError(ctx, "revocation lookup", err)
	}
	if revoked {
		return ErrTokenRevoked
	}

	removed, err := a.sessions.Delete(ctx, claims.SessionID)
	if err != nil {
		return a.storageError(ctx, "delete session", err)
	}

	entries := []revocation.Entry{{TokenID: claims.ID, ExpiresAt: claims.ExpiresAtTime()}}
	if removed != nil {
		entries = append(entries, removedEntries(*removed)...)
	}
	if err := a.revocations.AddMany(ctx, entries...); err != nil {
		return a.storageError(ctx, "revoke tokens", err)
	}

	a.metrics.Inc(MetricLogout)
	a.emitAudit(ctx, AuditEvent{
		EventType:   AuditEventLogout,
		PrincipalID: claims.PrincipalID,
		SessionID:   claims.SessionID,
	}, nil)
	return nil
}

// LogoutAll ends every session of principalID and returns how many there
// were.
func (a *Authority) LogoutAll(ctx context.Context, principalID string) (int, error) {
	if principalID == "" {
		return 0, ErrInvalidCredentials
	}
	removed, err := a.sessions.DeleteAllForPrincipal(ctx, principalID)
	if err != nil {
		return 0, a.storageError(ctx, "delete sessions", err)
	}

	var entries []revocation.Entry
	for _, r := range removed {
		entries = append(entries, removedEntries(r)...)
	}
	if err := a.revocations.AddMany(ctx, entries...); err != nil {
		return 0, a.storageError(ctx, "revoke tokens", err)
	}

	a.metrics.Inc(MetricLogoutAll)
	a.emitAudit(ctx, AuditEvent{
		EventType:   AuditEventLogoutAll,
		PrincipalID: principalID,
		Metadata:    map[string]string{"sessions": fmt.Sprint(len(removed))},
	}, nil)
	return len(removed), nil
}

/*
====================================
SESSIONS / HEALTH
====================================
*/

// Sessions lists the live sessions of principalID, most recently active
// first.
func (a *Authority) Sessions(ctx context.Context, principalID string) ([]SessionInfo, error) {
	list, err := a.sessions.List(ctx, principalID)
	if err != nil {
		return nil, a.storageError(ctx, "list sessions", err)
	}
	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, SessionInfo{
			SessionID:      s.SessionID,
			DeviceID:       s.DeviceID,
			ClientIP:       s.ClientIP,
			IssuedAt:       s.IssuedAt,
			LastActivityAt: s.LastActivityAt,
			ExpiresAt:      s.ExpiresAt,
		})
	}
	return out, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks the session store and, when it supports it, the directory.
func (a *Authority) Ping(ctx context.Context) error {
	if _, err := a.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if p, ok := a.directory.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}
	return nil
}

// MaxConcurrentSessions returns the per-principal session cap.
func (a *Authority) MaxConcurrentSessions() int { return a.sessions.MaxPerPrincipal() }

// Close flushes pending audit events. The Authority must not be used
// afterwards.
func (a *Authority) Close() {
	if a == nil {
		return
	}
	a.audit.Close()
}

// AuditDropped returns how many audit events were dropped.
func (a *Authority) AuditDropped() uint64 {
	if a == nil {
		return 0
	}
	return a.audit.Dropped()
}

// MetricsSnapshot returns a copy of the in-process counters.
func (a *Authority) MetricsSnapshot() MetricsSnapshot {
	if a == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return a.metrics.Snapshot()
}

/*
====================================
HELPERS
====================================
*/

func (a *Authority) consume(ctx context.Context, op string) error {
	if a.limiter == nil {
		return nil
	}
	err := a.limiter.Consume(ctx, clientIPFromContext(ctx), op)
	if err == nil {
		return nil
	}

	var limited *rate.LimitedError
	if errors.As(err, &limited) {
		a.metrics.Inc(MetricRateLimited)
		a.emitAudit(ctx, AuditEvent{
			EventType: AuditEventRateLimited,
			Metadata:  map[string]string{"operation": op},
		}, ErrRateLimited)
		return &RateLimitedError{Operation: limited.Operation, RetryAfter: limited.RetryAfter}
	}
	return a.storageError(ctx, "rate limit", err)
}

func (a *Authority) revokeRemoved(ctx context.Context, removed ...session.Removed) {
	var entries []revocation.Entry
	for _, r := range removed {
		entries = append(entries, removedEntries(r)...)
	}
	if err := a.revocations.AddMany(ctx, entries...); err != nil {
		// the sessions are gone, so their tokens already fail verification
		a.log(ctx).WarnContext(ctx, "revoke removed session tokens failed", "error", err)
	}
}

func removedEntries(r session.Removed) []revocation.Entry {
	return []revocation.Entry{
		{TokenID: r.AccessTokenID, ExpiresAt: r.AccessExpiresAt},
		{TokenID: r.RefreshTokenID, ExpiresAt: r.RefreshExpiresAt},
	}
}

func (a *Authority) storageError(ctx context.Context, op string, err error) error {
	a.log(ctx).ErrorContext(ctx, "storage failure", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

func (a *Authority) metricFailure(err error) {
	switch {
	case errors.Is(err, ErrStorageUnavailable):
		a.metrics.Inc(MetricStorageFailure)
	case errors.Is(err, ErrCSRFMismatch):
		a.metrics.Inc(MetricCSRFRejected)
	case errors.Is(err, ErrProviderExchangeFailed):
		a.metrics.Inc(MetricProviderFailure)
	}
}

func (a *Authority) log(ctx context.Context) *slog.Logger {
	if id := CorrelationIDFromContext(ctx); id != "" {
		return a.logger.With("correlation_id", id)
	}
	return a.logger
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, token.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, token.ErrInvalidSignature):
		return ErrTokenSignatureInvalid
	default:
		return ErrTokenMalformed
	}
}

// mapOAuthError translates handshake failures into Authority error kinds
// while keeping the *oauth.FlowError reachable through errors.As.
func mapOAuthError(err error) error {
	if err == nil {
		return nil
	}
	var kind error
	switch {
	case errors.Is(err, oauth.ErrCSRFMismatch):
		kind = ErrCSRFMismatch
	case errors.Is(err, oauth.ErrProviderExchange):
		kind = ErrProviderExchangeFailed
	case errors.Is(err, oauth.ErrPrincipalNotFound):
		kind = ErrInvalidCredentials
	case errors.Is(err, oauth.ErrPrincipalInactive):
		kind = ErrPrincipalInactive
	case errors.Is(err, oauth.ErrStateStorage), errors.Is(err, oauth.ErrDirectoryUnavailable):
		kind = ErrStorageUnavailable
	default:
		// IssueSession failures already carry an Authority kind
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

func flowMetadata(err error) map[string]string {
	var fe *oauth.FlowError
	if errors.As(err, &fe) {
		return map[string]string{"flow_state": fe.State.String()}
	}
	return nil
}

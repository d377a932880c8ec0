package authority

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/MrEthical07/authority/internal/audit"
)

// AuditEvent is one security-relevant occurrence.
type AuditEvent = audit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink drops every event.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers events in a channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

// SlogSink logs events through a structured logger.
type SlogSink = audit.SlogSink

func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }

func NewSlogSink(logger *slog.Logger) *SlogSink { return audit.NewSlogSink(logger) }

const (
	AuditEventLoginStarted   = "login_started"
	AuditEventLoginSuccess   = "login_success"
	AuditEventLoginFailure   = "login_failure"
	AuditEventRefreshSuccess = "refresh_success"
	AuditEventRefreshFailure = "refresh_failure"
	AuditEventRefreshReuse   = "refresh_reuse_detected"
	AuditEventLogout         = "logout_session"
	AuditEventLogoutAll      = "logout_all"
	AuditEventSessionEvicted = "session_evicted"
	AuditEventRateLimited    = "rate_limit_triggered"
)

// auditErrorCode maps err onto a stable code; raw error text is never
// written to the audit trail.
func auditErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, ErrTokenMalformed):
		return "token_malformed"
	case errors.Is(err, ErrTokenSignatureInvalid):
		return "token_signature_invalid"
	case errors.Is(err, ErrCSRFMismatch):
		return "csrf_mismatch"
	case errors.Is(err, ErrProviderExchangeFailed):
		return "provider_exchange_failed"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrPrincipalInactive):
		return "principal_inactive"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrSessionLimitReached):
		return "session_limit_reached"
	default:
		return "internal_error"
	}
}

func (a *Authority) emitAudit(ctx context.Context, event AuditEvent, err error) {
	if a.audit == nil {
		return
	}
	event.Timestamp = a.now()
	event.Success = err == nil
	event.Error = auditErrorCode(err)
	if event.ClientIP == "" {
		event.ClientIP = clientIPFromContext(ctx)
	}
	if event.CorrelationID == "" {
		event.CorrelationID = CorrelationIDFromContext(ctx)
	}
	a.audit.Emit(ctx, event)
}

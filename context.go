package authority

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type deviceIDContextKey struct{}
type correlationIDContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. It keys rate limits
// and is recorded on new sessions.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent. When no explicit device id is
// supplied, the device id is derived from it.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithDeviceID attaches a client-supplied device identifier.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDContextKey{}, deviceID)
}

// WithCorrelationID attaches a request correlation id. It is added to log
// records and audit events.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDContextKey{}, id)
}

func stringFromContext(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

func clientIPFromContext(ctx context.Context) string {
	return stringFromContext(ctx, clientIPContextKey{})
}

func userAgentFromContext(ctx context.Context) string {
	return stringFromContext(ctx, userAgentContextKey{})
}

func deviceIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, deviceIDContextKey{})
}

// CorrelationIDFromContext returns the id set by [WithCorrelationID].
func CorrelationIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, correlationIDContextKey{})
}

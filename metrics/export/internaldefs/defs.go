package internaldefs

import (
	"github.com/MrEthical07/authority"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   authority.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   authority.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	{ID: authority.MetricLoginStarted, Name: "authority_login_started_total", Help: "Login handshakes started."},
	{ID: authority.MetricLoginSuccess, Name: "authority_login_success_total", Help: "Sessions issued after a successful login."},
	{ID: authority.MetricLoginFailure, Name: "authority_login_failure_total", Help: "Rejected login callbacks."},
	{ID: authority.MetricCSRFRejected, Name: "authority_csrf_rejected_total", Help: "Callbacks rejected for an unknown, reused or mismatched state."},
	{ID: authority.MetricProviderFailure, Name: "authority_provider_failure_total", Help: "Failed identity provider code exchanges."},
	{ID: authority.MetricRateLimited, Name: "authority_rate_limited_total", Help: "Requests denied by the rate limiter."},
	{ID: authority.MetricRefreshSuccess, Name: "authority_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authority.MetricRefreshFailure, Name: "authority_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: authority.MetricRefreshReuseDetected, Name: "authority_refresh_reuse_detected_total", Help: "Presentations of an already rotated refresh token."},
	{ID: authority.MetricVerifySuccess, Name: "authority_verify_success_total", Help: "Accepted access tokens."},
	{ID: authority.MetricVerifyFailure, Name: "authority_verify_failure_total", Help: "Rejected access tokens."},
	{ID: authority.MetricRevokedTokenRejected, Name: "authority_revoked_token_rejected_total", Help: "Access tokens rejected because they were revoked."},
	{ID: authority.MetricSessionCreated, Name: "authority_session_created_total", Help: "Created sessions."},
	{ID: authority.MetricSessionEvicted, Name: "authority_session_evicted_total", Help: "Sessions evicted by the per-principal cap."},
	{ID: authority.MetricLogout, Name: "authority_logout_total", Help: "Single-session logouts."},
	{ID: authority.MetricLogoutAll, Name: "authority_logout_all_total", Help: "Logout-all operations."},
	{ID: authority.MetricStorageFailure, Name: "authority_storage_failure_total", Help: "Operations failed closed because storage was unavailable."},
}

// HistogramDefs lists every histogram in export order.
var HistogramDefs = []HistogramDef{
	{ID: authority.MetricVerifyLatency, Name: "authority_verify_latency_seconds", Help: "Access token verification latency."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const (
	AuditDroppedName = "authority_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
)

// HistogramUpperBounds are the finite bucket bounds in seconds. The eighth
// bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundLabels are the "le" label values of each bucket, +Inf last.
var HistogramBoundLabels = []string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// NormalizeBuckets copies raw into a fixed eight-bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

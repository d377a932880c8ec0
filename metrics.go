package authority

import (
	"sort"
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter.
type MetricID uint16

const (
	MetricLoginStarted MetricID = iota
	MetricLoginSuccess
	MetricLoginFailure
	MetricCSRFRejected
	MetricProviderFailure
	MetricRateLimited
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricVerifySuccess
	MetricVerifyFailure
	MetricRevokedTokenRejected
	MetricSessionCreated
	MetricSessionEvicted
	MetricLogout
	MetricLogoutAll
	MetricStorageFailure
	// MetricVerifyLatency is the only metric with a histogram.
	MetricVerifyLatency
	metricIDCount
)

// latencyBounds are the inclusive upper bounds of the verify latency
// buckets. One extra bucket catches everything above the last bound.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const latencyBucketCount = len(latencyBounds) + 1

// counter sits alone on its cache line so hot counters do not contend.
type counter struct {
	atomic.Uint64
	_ [56]byte
}

// Metrics is a fixed set of lock-free counters plus the verify latency
// histogram. A nil or disabled Metrics ignores every update.
type Metrics struct {
	enabled bool
	latency bool
	counts  [metricIDCount]counter
	verify  [latencyBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of all counters. Histograms holds
// per-bucket (non-cumulative) counts and is empty when latency tracking is
// off.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	m.counts[id].Add(1)
}

// Observe records d against id. Only MetricVerifyLatency is tracked.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.latency || id != MetricVerifyLatency {
		return
	}
	m.verify[latencyBucket(d)].Add(1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counts[id].Load()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if m == nil || !m.enabled {
		return snap
	}
	for id := range m.counts {
		snap.Counters[MetricID(id)] = m.counts[id].Load()
	}
	if m.latency {
		buckets := make([]uint64, latencyBucketCount)
		for i := range m.verify {
			buckets[i] = m.verify[i].Load()
		}
		snap.Histograms[MetricVerifyLatency] = buckets
	}
	return snap
}

func latencyBucket(d time.Duration) int {
	// truncate to whole milliseconds so 5.9ms still lands in the 5ms bucket
	d = d.Truncate(time.Millisecond)
	return sort.Search(len(latencyBounds), func(i int) bool { return d <= latencyBounds[i] })
}

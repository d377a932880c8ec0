package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/authority"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type staticSource struct {
	mu       sync.Mutex
	counters map[authority.MetricID]uint64
	latency  []uint64
	dropped  uint64
}

func (s *staticSource) MetricsSnapshot() authority.MetricsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := authority.MetricsSnapshot{
		Counters:   map[authority.MetricID]uint64{},
		Histograms: map[authority.MetricID][]uint64{},
	}
	for id, v := range s.counters {
		snap.Counters[id] = v
	}
	if s.latency != nil {
		snap.Histograms[authority.MetricVerifyLatency] = append([]uint64(nil), s.latency...)
	}
	return snap
}

func (s *staticSource) AuditDropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func newReader(t *testing.T, src metricsSource) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("authority-test")
	exp, err := NewExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewExporterFromSource: %v", err)
	}
	t.Cleanup(func() {
		if err := exp.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, data map[string]metricdata.Aggregation, name string) int64 {
	t.Helper()
	sum, ok := data[name].(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 {
		t.Fatalf("%s: unexpected data %T", name, data[name])
	}
	return sum.DataPoints[0].Value
}

func TestExporterCounters(t *testing.T) {
	src := &staticSource{
		counters: map[authority.MetricID]uint64{
			authority.MetricLoginSuccess:         3,
			authority.MetricRefreshReuseDetected: 2,
		},
		dropped: 1,
	}
	data := collect(t, newReader(t, src))

	if got := sumOf(t, data, "authority_login_success_total"); got != 3 {
		t.Fatalf("login success = %d, want 3", got)
	}
	if got := sumOf(t, data, "authority_refresh_reuse_detected_total"); got != 2 {
		t.Fatalf("reuse detected = %d, want 2", got)
	}
	if got := sumOf(t, data, "authority_audit_dropped_total"); got != 1 {
		t.Fatalf("audit dropped = %d, want 1", got)
	}
	if _, ok := data["authority_verify_latency_seconds_bucket"]; ok {
		t.Fatal("histogram must be skipped when latency tracking is off")
	}
}

func TestExporterLatencyBuckets(t *testing.T) {
	src := &staticSource{latency: []uint64{2, 0, 1, 0, 0, 0, 0, 1}}
	data := collect(t, newReader(t, src))

	gauge, ok := data["authority_verify_latency_seconds_bucket"].(metricdata.Gauge[int64])
	if !ok {
		t.Fatalf("bucket gauge missing: %T", data["authority_verify_latency_seconds_bucket"])
	}
	want := map[string]int64{"0.005": 2, "0.01": 2, "0.025": 3, "0.5": 3, "+Inf": 4}
	seen := 0
	for _, dp := range gauge.DataPoints {
		le, _ := dp.Attributes.Value(attribute.Key("le"))
		if v, ok := want[le.AsString()]; ok {
			seen++
			if dp.Value != v {
				t.Fatalf("bucket le=%s = %d, want %d", le.AsString(), dp.Value, v)
			}
		}
	}
	if seen != len(want) {
		t.Fatalf("saw %d of %d expected buckets", seen, len(want))
	}

	count, ok := data["authority_verify_latency_seconds_count"].(metricdata.Gauge[int64])
	if !ok || len(count.DataPoints) != 1 || count.DataPoints[0].Value != 4 {
		t.Fatalf("unexpected count %+v", data["authority_verify_latency_seconds_count"])
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	meter := sdkmetric.NewMeterProvider().Meter("authority-test")
	if _, err := NewExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporterFromSource(nil, &staticSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	src := &staticSource{counters: map[authority.MetricID]uint64{}}
	reader := newReader(t, src)

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.counters[authority.MetricVerifySuccess] = v
			src.mu.Unlock()
			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i))
	}
	wg.Wait()
}

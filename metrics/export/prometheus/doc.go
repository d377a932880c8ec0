// Package prometheus exposes the Authority's counters as a
// prometheus.Collector.
//
// Register [Exporter] with any registry, or mount [Exporter.Handler] for a
// standalone endpoint. Counters are named authority_*_total and the single
// histogram is authority_verify_latency_seconds.
package prometheus

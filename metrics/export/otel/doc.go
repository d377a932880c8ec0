// Package otel publishes the Authority's counters as OpenTelemetry
// observable instruments.
//
// [NewExporter] registers one Int64ObservableCounter per counter and one
// Int64ObservableGauge per latency bucket. A single callback reads the
// metrics snapshot on each collection cycle. Callers own the MeterProvider.
package otel

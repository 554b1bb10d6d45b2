// Package otel publishes twofa engine metrics as OpenTelemetry observable
// instruments.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter and
// one Int64ObservableGauge per latency bucket. A single callback reads the
// engine snapshot on each collection cycle. The caller owns the
// MeterProvider.
package otel

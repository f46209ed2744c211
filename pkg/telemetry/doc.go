// Package telemetry wires OpenTelemetry exporters and meters for the graph
// engine.
//
// It centralises trace provider setup, records node and run metrics, and
// implements the trace sinks the runner hands its per-node events to: an
// OpenTelemetry sink that turns start/end pairs into spans, a slog sink,
// and fan-out/no-op sinks. Prometheus exposition for the serve command
// lives here as well.
package telemetry

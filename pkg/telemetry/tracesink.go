package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Scopeo/draftnrun/pkg/domain"
)

// TraceSink receives per-node trace events from the graph runner. The
// engine treats the sink as fire and forget: Emit returns nothing and
// implementations must absorb their own failures, because a broken trace
// pipeline must never fail a run.
type TraceSink interface {
	Emit(ctx context.Context, event domain.TraceEvent)
}

// NopSink discards every event.
type NopSink struct{}

// Emit implements TraceSink.
func (NopSink) Emit(context.Context, domain.TraceEvent) {}

// LogSink writes trace events to a structured logger. Start and successful
// end events log at debug; failures log at warn.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink over the given logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Emit implements TraceSink.
func (s *LogSink) Emit(ctx context.Context, event domain.TraceEvent) {
	args := []any{
		"run_id", event.RunID,
		"graph_id", event.GraphID,
		"node_id", event.NodeID,
		"phase", string(event.Phase),
	}
	switch {
	case event.Phase == domain.TraceStart:
		s.logger.DebugContext(ctx, "node started", append(args, "inputs", portNames(event.Inputs))...)
	case event.Error != "":
		s.logger.WarnContext(ctx, "node failed", append(args, "error", event.Error)...)
	default:
		s.logger.DebugContext(ctx, "node completed", append(args, "outputs", portNames(event.Outputs))...)
	}
}

// MultiSink fans every event out to each wrapped sink in order.
type MultiSink []TraceSink

// Emit implements TraceSink.
func (m MultiSink) Emit(ctx context.Context, event domain.TraceEvent) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(ctx, event)
		}
	}
}

// OTelSink turns the start/end event pairs of each node into OpenTelemetry
// spans, children of whatever span is active on the emitting context. Span
// attributes carry port names and sizes, never payload values.
type OTelSink struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

// NewOTelSink creates a sink using the globally configured tracer
// provider.
func NewOTelSink() *OTelSink {
	return &OTelSink{
		tracer: otel.Tracer("draftnrun.engine"),
		spans:  make(map[string]trace.Span),
	}
}

// Emit implements TraceSink.
func (s *OTelSink) Emit(ctx context.Context, event domain.TraceEvent) {
	key := event.RunID + "/" + event.NodeID

	if event.Phase == domain.TraceStart {
		_, span := s.tracer.Start(ctx, "graph.node",
			trace.WithTimestamp(event.Time),
			trace.WithAttributes(
				attribute.String("graph.id", event.GraphID),
				attribute.String("run.id", event.RunID),
				attribute.String("node.id", event.NodeID),
				attribute.StringSlice("node.input_ports", portNames(event.Inputs)),
			),
		)
		s.mu.Lock()
		s.spans[key] = span
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	span, started := s.spans[key]
	delete(s.spans, key)
	s.mu.Unlock()

	if !started {
		// Nodes failed by upstream propagation never start; give them a
		// zero-length span so the failure is visible in the trace.
		_, span = s.tracer.Start(ctx, "graph.node",
			trace.WithTimestamp(event.Time),
			trace.WithAttributes(
				attribute.String("graph.id", event.GraphID),
				attribute.String("run.id", event.RunID),
				attribute.String("node.id", event.NodeID),
			),
		)
	}

	if event.Error != "" {
		span.RecordError(errors.New(event.Error))
		span.SetStatus(codes.Error, event.Error)
	} else {
		span.SetAttributes(attribute.StringSlice("node.output_ports", portNames(event.Outputs)))
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(event.Time))
}

func portNames(ports map[string]any) []string {
	if len(ports) == 0 {
		return nil
	}
	names := make([]string, 0, len(ports))
	for name := range ports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

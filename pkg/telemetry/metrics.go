package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Scopeo/draftnrun/pkg/domain"
)

var (
	metricsOnce          sync.Once
	metricsInitErr       error
	nodeRunCounter       metric.Int64Counter
	nodeRetryCounter     metric.Int64Counter
	nodeTimeoutCounter   metric.Int64Counter
	nodeLatencyHistogram metric.Float64Histogram
	runCounter           metric.Int64Counter
	runDurationHistogram metric.Float64Histogram
)

// NodeMetrics captures the fields recorded after one node execution.
type NodeMetrics struct {
	GraphID  string
	NodeID   string
	NodeType string
	State    domain.NodeState
	Duration time.Duration
	Retries  int
	TimedOut bool
}

// RecordNodeMetrics emits the counters and histograms describing node
// execution behaviour. Recording failures are swallowed; metrics must
// never affect a run.
func RecordNodeMetrics(ctx context.Context, m NodeMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("graph.id", m.GraphID),
		attribute.String("node.id", m.NodeID),
		attribute.String("node.type", m.NodeType),
		attribute.String("node.state", string(m.State)),
	}

	nodeRunCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if m.Duration > 0 {
		nodeLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
	if m.Retries > 0 {
		nodeRetryCounter.Add(ctx, int64(m.Retries), metric.WithAttributes(attrs...))
	}
	if m.TimedOut {
		nodeTimeoutCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RunMetrics captures the fields recorded after one graph run.
type RunMetrics struct {
	GraphID     string
	Failed      bool
	Duration    time.Duration
	NodeCount   int
	FailedNodes int
}

// RecordRunMetrics emits run-level counters and duration.
func RecordRunMetrics(ctx context.Context, m RunMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	outcome := "completed"
	if m.Failed {
		outcome = "failed"
	}
	attrs := []attribute.KeyValue{
		attribute.String("graph.id", m.GraphID),
		attribute.String("run.outcome", outcome),
	}

	runCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if m.Duration > 0 {
		runDurationHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("draftnrun.engine")

		nodeRunCounter, metricsInitErr = meter.Int64Counter(
			"draftnrun.node.runs_total",
			metric.WithDescription("Node executions partitioned by terminal state"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		nodeRetryCounter, metricsInitErr = meter.Int64Counter(
			"draftnrun.node.retries_total",
			metric.WithDescription("Retry attempts performed by nodes"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		nodeTimeoutCounter, metricsInitErr = meter.Int64Counter(
			"draftnrun.node.timeouts_total",
			metric.WithDescription("Node executions that exceeded their deadline"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		nodeLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"draftnrun.node.duration_ms",
			metric.WithDescription("Observed node execution latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		runCounter, metricsInitErr = meter.Int64Counter(
			"draftnrun.graph.runs_total",
			metric.WithDescription("Graph runs partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		runDurationHistogram, metricsInitErr = meter.Float64Histogram(
			"draftnrun.graph.duration_ms",
			metric.WithDescription("Observed graph run duration"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

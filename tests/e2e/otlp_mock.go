package e2e

import (
	"context"
	"net"
	"sync"
	"testing"

	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
)

// traceCollector is an in-process OTLP trace receiver. Tests point the
// exporter at its address and read back every span the engine shipped.
type traceCollector struct {
	collectortrace.UnimplementedTraceServiceServer

	t             *testing.T
	mu            sync.Mutex
	resourceSpans []*tracepb.ResourceSpans
	notify        chan struct{}
}

// startTraceCollector serves the OTLP trace service on a loopback port
// and returns the collector together with its dial address.
func startTraceCollector(t *testing.T) (*traceCollector, string) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start OTLP listener: %v", err)
	}

	collector := &traceCollector{
		t:      t,
		notify: make(chan struct{}, 1),
	}

	server := grpc.NewServer()
	collectortrace.RegisterTraceServiceServer(server, collector)

	go func() {
		_ = server.Serve(lis)
	}()

	t.Cleanup(func() {
		server.Stop()
		_ = lis.Close()
	})

	return collector, lis.Addr().String()
}

func (c *traceCollector) Export(_ context.Context, req *collectortrace.ExportTraceServiceRequest) (*collectortrace.ExportTraceServiceResponse, error) {
	c.mu.Lock()
	c.resourceSpans = append(c.resourceSpans, req.ResourceSpans...)
	c.mu.Unlock()

	if c.t != nil {
		c.t.Logf("collector received %d resource spans", len(req.ResourceSpans))
	}

	select {
	case c.notify <- struct{}{}:
	default:
	}

	return &collectortrace.ExportTraceServiceResponse{}, nil
}

// WaitForSpans blocks until at least minSpans spans have arrived or the
// context ends; it returns every span received so far, flattened across
// export batches, or nil on timeout.
func (c *traceCollector) WaitForSpans(ctx context.Context, minSpans int) []*tracepb.Span {
	for {
		c.mu.Lock()
		spans := flattenResourceSpans(c.resourceSpans)
		c.mu.Unlock()
		if len(spans) >= minSpans {
			return spans
		}

		select {
		case <-ctx.Done():
			return nil
		case <-c.notify:
		}
	}
}

// Reset drops everything received so far, for tests that ship several
// runs through one collector.
func (c *traceCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resourceSpans = nil
}

func flattenResourceSpans(resSpans []*tracepb.ResourceSpans) []*tracepb.Span {
	var spans []*tracepb.Span
	for _, rs := range resSpans {
		for _, scope := range rs.ScopeSpans {
			spans = append(spans, scope.Spans...)
		}
	}
	return spans
}

// spanAttr returns the string value of a span attribute.
func spanAttr(span *tracepb.Span, key string) (string, bool) {
	for _, attr := range span.GetAttributes() {
		if attr.GetKey() == key {
			return attr.GetValue().GetStringValue(), true
		}
	}
	return "", false
}

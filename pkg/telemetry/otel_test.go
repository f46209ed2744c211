package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestSetupProvider_DisabledWithoutEndpoint(t *testing.T) {
	prev := otel.GetTracerProvider()

	shutdown, err := SetupProvider(context.Background(), Config{ServiceName: "draftnrun-test"})
	if err != nil {
		t.Fatalf("setup without endpoint must not fail: %v", err)
	}
	if shutdown == nil {
		t.Fatalf("expected a shutdown function")
	}

	if otel.GetTracerProvider() != prev {
		t.Fatalf("disabled setup must leave the global tracer provider untouched")
	}

	// The no-op shutdown is safe to call repeatedly.
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

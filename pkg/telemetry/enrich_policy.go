package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Scopeo/draftnrun/pkg/policy"
)

// RecordPolicyDecision annotates the current span with a policy
// decision so denied and redacted runs can be found by attribute.
func RecordPolicyDecision(span trace.Span, decision policy.Decision) {
	if !span.IsRecording() {
		return
	}

	span.SetAttributes(
		attribute.String("policy.decision.action", string(decision.Action)),
	)

	if decision.Reason != "" {
		span.SetAttributes(attribute.String("policy.decision.reason", decision.Reason))
	}

	for key, value := range decision.Metadata {
		if value == "" {
			continue
		}
		span.SetAttributes(attribute.String("policy."+key, value))
	}

	if decision.Action == policy.ActionDeny {
		span.AddEvent("policy.denied")
	}
}

package policy

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

const graphPolicyModule = `package graph

default decision := {"action": "allow", "reason": "no rule matched", "tier": "standard"}

decision := verdict if {
	contains(lower(input.payload.text), "launch code")
	verdict := {
		"action": "deny",
		"reason": "restricted content",
		"metadata": {"rule": "restricted-terms"},
	}
}

decision := verdict if {
	contains(input.payload.text, "@")
	not contains(lower(input.payload.text), "launch code")
	verdict := {
		"action": "redact",
		"reason": "contact details detected",
		"metadata": {"rule": "contact-details"},
		"fields": ["text"],
	}
}

environment := {"action": "deny", "reason": "environment locked"} if {
	input.context.environment == "locked"
}

flag := true

broken := {"action": "quarantine", "reason": "unsupported"}
`

func newGraphEngine(t *testing.T) *Engine {
	t.Helper()

	engine, err := NewEngine(context.Background(), EngineOptions{
		Entrypoint: "graph/decision",
		Modules:    map[string]string{"graph.rego": graphPolicyModule},
	})
	if err != nil {
		t.Fatalf("failed to build policy engine: %v", err)
	}
	return engine
}

func TestEngine_RequiresModules(t *testing.T) {
	_, err := NewEngine(context.Background(), EngineOptions{Entrypoint: "graph/decision"})
	if err == nil {
		t.Fatal("expected error for engine without modules")
	}
	if !strings.Contains(err.Error(), "at least one rego module") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEngine_RejectsMalformedModule(t *testing.T) {
	_, err := NewEngine(context.Background(), EngineOptions{
		Modules: map[string]string{"bad.rego": "package graph\n\ndecision := {"},
	})
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), `parse rego module "bad.rego"`) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEngine_RejectsUnsafeModule(t *testing.T) {
	// Parses fine, fails compilation: x is never bound.
	src := "package graph\n\ndecision := x if {\n\tx > 1\n}\n"

	_, err := NewEngine(context.Background(), EngineOptions{
		Modules: map[string]string{"unsafe.rego": src},
	})
	if err == nil {
		t.Fatal("expected compile error")
	}
	if !strings.Contains(err.Error(), "compile rego modules") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEngine_AllowDecisionCarriesOutputs(t *testing.T) {
	engine := newGraphEngine(t)

	decision, err := engine.Evaluate(context.Background(), Input{
		Payload: map[string]any{"text": "hello world"},
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if decision.Action != ActionAllow {
		t.Fatalf("expected allow, got %q", decision.Action)
	}
	if decision.Reason != "no rule matched" {
		t.Fatalf("unexpected reason: %q", decision.Reason)
	}
	if decision.Outputs["tier"] != "standard" {
		t.Fatalf("expected tier output, got %#v", decision.Outputs)
	}
	if decision.Metadata == nil {
		t.Fatal("metadata must not be nil")
	}
}

func TestEngine_AllowsEmptyPayload(t *testing.T) {
	engine := newGraphEngine(t)

	decision, err := engine.Evaluate(context.Background(), Input{})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if decision.Action != ActionAllow {
		t.Fatalf("expected default allow, got %q", decision.Action)
	}
}

func TestEngine_DenyDecision(t *testing.T) {
	engine := newGraphEngine(t)

	decision, err := engine.Evaluate(context.Background(), Input{
		Payload: map[string]any{"text": "the Launch Code is 0000"},
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if decision.Action != ActionDeny {
		t.Fatalf("expected deny, got %q", decision.Action)
	}
	if decision.Reason != "restricted content" {
		t.Fatalf("unexpected reason: %q", decision.Reason)
	}
	if decision.Metadata["rule"] != "restricted-terms" {
		t.Fatalf("unexpected metadata: %#v", decision.Metadata)
	}
}

func TestEngine_RedactDecision(t *testing.T) {
	engine := newGraphEngine(t)

	decision, err := engine.Evaluate(context.Background(), Input{
		Payload: map[string]any{"text": "mail me at ops@example.com"},
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if decision.Action != ActionRedact {
		t.Fatalf("expected redact, got %q", decision.Action)
	}
	if !reflect.DeepEqual(decision.Outputs["fields"], []any{"text"}) {
		t.Fatalf("expected fields output, got %#v", decision.Outputs)
	}
}

func TestEngine_UndefinedDecisionDenies(t *testing.T) {
	engine := newGraphEngine(t)

	decision, err := engine.Evaluate(context.Background(), Input{
		Entrypoint: "graph/environment",
		Context:    map[string]any{"environment": "open"},
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if decision.Action != ActionDeny {
		t.Fatalf("expected fail-closed deny, got %q", decision.Action)
	}
	if decision.Reason != "policy produced no decision" {
		t.Fatalf("unexpected reason: %q", decision.Reason)
	}
}

func TestEngine_CustomEntrypoint(t *testing.T) {
	engine := newGraphEngine(t)

	decision, err := engine.Evaluate(context.Background(), Input{
		Entrypoint: "graph/environment",
		Context:    map[string]any{"environment": "locked"},
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if decision.Action != ActionDeny {
		t.Fatalf("expected deny, got %q", decision.Action)
	}
	if decision.Reason != "environment locked" {
		t.Fatalf("unexpected reason: %q", decision.Reason)
	}
}

func TestEngine_RejectsNonObjectDecision(t *testing.T) {
	engine := newGraphEngine(t)

	_, err := engine.Evaluate(context.Background(), Input{Entrypoint: "graph/flag"})
	if err == nil {
		t.Fatal("expected error for boolean decision")
	}
	if !strings.Contains(err.Error(), "unexpected result type") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEngine_RejectsUnknownAction(t *testing.T) {
	engine := newGraphEngine(t)

	_, err := engine.Evaluate(context.Background(), Input{Entrypoint: "graph/broken"})
	if err == nil {
		t.Fatal("expected error for unknown action")
	}
	if !strings.Contains(err.Error(), `unknown action "quarantine"`) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEngine_CachedDecisionsAreIsolated(t *testing.T) {
	engine := newGraphEngine(t)
	input := Input{Payload: map[string]any{"text": "the launch code is 0000"}}

	first, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	// A caller scribbling on its copy must not poison the cache.
	first.Metadata["rule"] = "tampered"
	first.Outputs["injected"] = true

	second, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if second.Metadata["rule"] != "restricted-terms" {
		t.Fatalf("cached metadata was mutated: %#v", second.Metadata)
	}
	if _, ok := second.Outputs["injected"]; ok {
		t.Fatalf("cached outputs were mutated: %#v", second.Outputs)
	}
}

func TestEngine_CacheControls(t *testing.T) {
	engine := newGraphEngine(t)
	input := Input{Payload: map[string]any{"text": "contact ops@example.com"}}

	before, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	engine.FlushCache()

	after, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate after flush failed: %v", err)
	}
	if after.Action != before.Action {
		t.Fatalf("decision changed after flush: %q vs %q", after.Action, before.Action)
	}

	fresh, err := engine.Evaluate(context.Background(), Input{
		Payload:      input.Payload,
		DisableCache: true,
	})
	if err != nil {
		t.Fatalf("uncached evaluate failed: %v", err)
	}
	if fresh.Action != before.Action {
		t.Fatalf("uncached decision diverged: %q vs %q", fresh.Action, before.Action)
	}
}

type stubEvaluator struct {
	decision Decision
	err      error
	calls    int
}

func (s *stubEvaluator) Evaluate(_ context.Context, _ Input) (Decision, error) {
	s.calls++
	return s.decision, s.err
}

func TestChain_EmptyAllows(t *testing.T) {
	decision, err := NewChain().Evaluate(context.Background(), Input{})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if decision.Action != ActionAllow {
		t.Fatalf("expected allow, got %q", decision.Action)
	}
	if decision.Metadata == nil || decision.Outputs == nil {
		t.Fatal("decision maps must not be nil")
	}
}

func TestChain_ShortCircuitsOnDeny(t *testing.T) {
	first := &stubEvaluator{decision: Decision{Action: ActionDeny, Reason: "stop"}}
	second := &stubEvaluator{decision: Decision{Action: ActionAllow}}

	decision, err := NewChain(first, second).Evaluate(context.Background(), Input{})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if decision.Action != ActionDeny || decision.Reason != "stop" {
		t.Fatalf("unexpected decision: %#v", decision)
	}
	if decision.Metadata == nil || decision.Outputs == nil {
		t.Fatal("nil maps must be normalized")
	}
	if second.calls != 0 {
		t.Fatalf("second evaluator ran %d times after terminal decision", second.calls)
	}
}

func TestChain_AllowContinues(t *testing.T) {
	engine := newGraphEngine(t)
	tail := &stubEvaluator{decision: Decision{Action: ActionRedact, Reason: "mask it"}}

	decision, err := NewChain(engine, tail).Evaluate(context.Background(), Input{
		Payload: map[string]any{"text": "hello world"},
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if tail.calls != 1 {
		t.Fatalf("tail evaluator ran %d times, want 1", tail.calls)
	}
	if decision.Action != ActionRedact || decision.Reason != "mask it" {
		t.Fatalf("unexpected decision: %#v", decision)
	}
}

func TestChain_PropagatesErrors(t *testing.T) {
	boom := errors.New("rule store unavailable")
	chain := NewChain(&stubEvaluator{err: boom})

	_, err := chain.Evaluate(context.Background(), Input{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped evaluator error, got %v", err)
	}
}

func TestChain_RejectsUnknownAction(t *testing.T) {
	chain := NewChain(&stubEvaluator{decision: Decision{Action: Action("quarantine")}})

	_, err := chain.Evaluate(context.Background(), Input{})
	if err == nil || !strings.Contains(err.Error(), "unknown policy action") {
		t.Fatalf("unexpected error: %v", err)
	}
}

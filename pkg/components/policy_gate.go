package components

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/Scopeo/draftnrun/pkg/domain"
	"github.com/Scopeo/draftnrun/pkg/engine"
	"github.com/Scopeo/draftnrun/pkg/engine/runtime"
	"github.com/Scopeo/draftnrun/pkg/policy"
	"github.com/Scopeo/draftnrun/pkg/telemetry"
)

// ErrPolicyDenied marks a run payload stopped by a policy decision.
var ErrPolicyDenied = errors.New("denied by policy")

// Gate modes. Enforce fails the node on a deny decision; report
// publishes the decision and lets the graph continue.
const (
	GateModeEnforce = "enforce"
	GateModeReport  = "report"
)

// policyGateComponent evaluates its runtime payload against an embedded
// OPA policy. Rego modules compile once at construction; each run
// evaluates the decision entrypoint with the payload and the run
// identity as input.
type policyGateComponent struct {
	engine *policy.Engine
	mode   string
	logger *slog.Logger
}

func policyGateRegistration() engine.Registration {
	definition := domain.ComponentDefinition{
		Type:        TypePolicyGate,
		Description: "Evaluates the payload against OPA rules; denies, redacts or passes.",
		Parameters: []domain.ParameterDefinition{
			{Name: "modules", Type: domain.ParamJSON, Phases: []domain.ResolutionPhase{domain.PhaseConstructor}},
			{Name: "entrypoint", Type: domain.ParamString, Default: "graph/decision", Phases: []domain.ResolutionPhase{domain.PhaseConstructor}},
			{Name: "mode", Type: domain.ParamString, Default: GateModeEnforce, Phases: []domain.ResolutionPhase{domain.PhaseConstructor}},
			{Name: "payload", Type: domain.ParamJSON, Nullable: true, Phases: []domain.ResolutionPhase{domain.PhaseRuntime}},
		},
		Ports: []domain.PortDefinition{
			{Name: "payload", Direction: domain.PortOut, Canonical: true},
			{Name: "action", Direction: domain.PortOut},
			{Name: "reason", Direction: domain.PortOut},
			{Name: "allowed", Direction: domain.PortOut},
		},
	}

	return engine.Registration{
		Definition: definition,
		Factory:    newPolicyGateComponent,
		Processors: []engine.ParamProcessor{
			engine.ExpandEnvProcessor(),
			engine.DefaultsProcessor(definition),
		},
	}
}

func newPolicyGateComponent(ctx context.Context, args map[string]any) (runtime.Component, error) {
	rawModules := mapArg(args, "modules")
	if len(rawModules) == 0 {
		return nil, fmt.Errorf("policy_gate: modules must be a non-empty object of rego sources")
	}
	modules := make(map[string]string, len(rawModules))
	for name, source := range rawModules {
		text, ok := source.(string)
		if !ok {
			return nil, fmt.Errorf("policy_gate: module %q must be a rego source string", name)
		}
		modules[name] = text
	}

	mode := stringArg(args, "mode", GateModeEnforce)
	if mode != GateModeEnforce && mode != GateModeReport {
		return nil, fmt.Errorf("policy_gate: unknown mode %q", mode)
	}

	policyEngine, err := policy.NewEngine(ctx, policy.EngineOptions{
		Entrypoint: stringArg(args, "entrypoint", ""),
		Modules:    modules,
	})
	if err != nil {
		return nil, fmt.Errorf("policy_gate: %w", err)
	}

	return &policyGateComponent{
		engine: policyEngine,
		mode:   mode,
		logger: slog.Default(),
	}, nil
}

func (c *policyGateComponent) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	payload := gatePayload(inputs["payload"])
	info, _ := runtime.InfoFromContext(ctx)

	decision, err := c.engine.Evaluate(ctx, policy.Input{
		Payload: payload,
		Context: map[string]any{
			"run_id":   info.RunID,
			"graph_id": info.GraphID,
			"node_id":  info.NodeID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("policy_gate: %w", err)
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		telemetry.RecordPolicyDecision(span, decision)
	}

	c.logger.Info("policy gate evaluated",
		"node_id", info.NodeID,
		"run_id", info.RunID,
		"action", decision.Action,
		"reason", decision.Reason,
	)

	if decision.Action == policy.ActionDeny && c.mode == GateModeEnforce {
		return nil, fmt.Errorf("%w: %s", ErrPolicyDenied, decision.Reason)
	}

	outputs := map[string]any{
		"payload": inputs["payload"],
		"action":  string(decision.Action),
		"reason":  decision.Reason,
		"allowed": decision.Action == policy.ActionAllow,
	}
	// Rules may publish extra decision fields; they never shadow the
	// gate's own ports.
	for key, value := range decision.Outputs {
		if _, reserved := outputs[key]; reserved {
			continue
		}
		outputs[key] = value
	}
	return outputs, nil
}

// gatePayload shapes the runtime payload for rego input: objects pass
// through, any other value is wrapped so rules can still address it.
func gatePayload(raw any) map[string]any {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	default:
		return map[string]any{"value": v}
	}
}

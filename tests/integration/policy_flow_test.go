package integration

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/Scopeo/draftnrun/pkg/components"
	"github.com/Scopeo/draftnrun/pkg/domain"
	"github.com/Scopeo/draftnrun/pkg/engine"
	"github.com/Scopeo/draftnrun/tests/testhelpers"
)

const gatedDoc = `
id: gated
instances:
  - id: gate
    type: policy_gate
    params:
      modules:
        gate.rego: |
          package graph

          default decision := {"action": "allow", "reason": "clean"}

          decision := {"action": "deny", "reason": "restricted term"} if {
            contains(lower(input.payload.text), "forbidden")
          }
    inputs:
      payload:
        ref: {instance: input, port: payload}
  - id: relay
    type: echo
    inputs:
      value:
        ref: {instance: gate, port: payload}
outputNodes: [gate, relay]
`

// TestPolicyGateDeniesPayload feeds a restricted payload through an
// enforcing gate: the gate node fails with the policy sentinel and its
// dependent never receives the payload.
func TestPolicyGateDeniesPayload(t *testing.T) {
	dir := testhelpers.WriteGraphDir(t, map[string]string{"gated.yaml": gatedDoc})
	builder := testhelpers.NewBuilder(t, dir, nil)

	ctx := context.Background()
	runner, err := builder.BuildGraph(ctx, "gated")
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}

	result, runErr := runner.Run(ctx, engine.RunRequest{
		Inputs: map[string]any{
			"payload": map[string]any{"text": "this mentions a forbidden topic"},
		},
	})
	if runErr == nil {
		t.Fatal("run succeeded, want policy denial")
	}
	if !errors.Is(runErr, components.ErrPolicyDenied) {
		t.Errorf("run error = %v, want policy denial in chain", runErr)
	}

	var re *domain.RunError
	if !errors.As(runErr, &re) {
		t.Fatalf("run error = %T, want *domain.RunError", runErr)
	}
	gateErr, ok := re.Failure("gate")
	if !ok {
		t.Fatal("no recorded failure for gate")
	}
	if !errors.Is(gateErr, components.ErrPolicyDenied) {
		t.Errorf("gate failure = %v", gateErr)
	}

	relayErr, ok := re.Failure("relay")
	if !ok {
		t.Fatal("no recorded failure for relay")
	}
	if !errors.Is(relayErr, domain.ErrMissingUpstreamOutput) {
		t.Errorf("relay failure = %v", relayErr)
	}
	if result.States["relay"] != domain.NodeFailed {
		t.Errorf("relay state = %s", result.States["relay"])
	}
}

// TestPolicyGateAllowsPayload runs the same graph with a clean payload
// and checks the gate forwards it untouched along with the decision.
func TestPolicyGateAllowsPayload(t *testing.T) {
	dir := testhelpers.WriteGraphDir(t, map[string]string{"gated.yaml": gatedDoc})
	builder := testhelpers.NewBuilder(t, dir, nil)

	ctx := context.Background()
	runner, err := builder.BuildGraph(ctx, "gated")
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}

	payload := map[string]any{"text": "routine status update"}
	result, err := runner.Run(ctx, engine.RunRequest{
		Inputs: map[string]any{"payload": payload},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := result.Outputs["gate"]["action"]; got != "allow" {
		t.Errorf("gate action = %#v", got)
	}
	if got := result.Outputs["gate"]["allowed"]; got != true {
		t.Errorf("gate allowed = %#v", got)
	}
	if got := result.Outputs["relay"]["output"]; !reflect.DeepEqual(got, payload) {
		t.Errorf("relay output = %#v, want payload passthrough", got)
	}
}

// TestPolicyGateReportMode lets a deny decision through in report mode:
// the node completes, publishes the decision, and downstream still runs.
func TestPolicyGateReportMode(t *testing.T) {
	const doc = `
id: audited
instances:
  - id: gate
    type: policy_gate
    params:
      mode: report
      modules:
        gate.rego: |
          package graph

          default decision := {"action": "allow", "reason": "clean"}

          decision := {"action": "deny", "reason": "restricted term"} if {
            contains(lower(input.payload.text), "forbidden")
          }
    inputs:
      payload:
        ref: {instance: input, port: payload}
outputNodes: [gate]
`
	dir := testhelpers.WriteGraphDir(t, map[string]string{"audited.yaml": doc})
	builder := testhelpers.NewBuilder(t, dir, nil)

	ctx := context.Background()
	runner, err := builder.BuildGraph(ctx, "audited")
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}

	result, err := runner.Run(ctx, engine.RunRequest{
		Inputs: map[string]any{
			"payload": map[string]any{"text": "forbidden but only reported"},
		},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := result.Outputs["gate"]["action"]; got != "deny" {
		t.Errorf("gate action = %#v, want deny", got)
	}
	if got := result.Outputs["gate"]["allowed"]; got != false {
		t.Errorf("gate allowed = %#v, want false", got)
	}
	if result.States["gate"] != domain.NodeCompleted {
		t.Errorf("gate state = %s, want completed in report mode", result.States["gate"])
	}
}

// TestToolRunnerComposition wires two embedded children into a parent
// via the containment relation. The children never appear as scheduler
// nodes; the parent dispatches them and publishes their results.
func TestToolRunnerComposition(t *testing.T) {
	const doc = `
id: agent
instances:
  - id: dispatch
    type: tool_runner
    params:
      names: [alpha, beta]
    inputs:
      input:
        json:
          template:
            value: ping
            variables:
              task: TASK
          refs:
            TASK:
              ref: {instance: input, port: task}
    components:
      - {name: tools, child: alpha, order: 1}
      - {name: tools, child: beta, order: 2}
  - id: alpha
    type: echo
  - id: beta
    type: template
    params:
      template: "running {{task}}"
outputNodes: [dispatch]
`
	dir := testhelpers.WriteGraphDir(t, map[string]string{"agent.yaml": doc})
	builder := testhelpers.NewBuilder(t, dir, nil)

	ctx := context.Background()
	runner, err := builder.BuildGraph(ctx, "agent")
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}

	result, err := runner.Run(ctx, engine.RunRequest{
		Inputs: map[string]any{"task": "audit"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Embedded children are not scheduled nodes: only the parent has a
	// state and publishes outputs.
	if _, scheduled := result.States["alpha"]; scheduled {
		t.Error("embedded child alpha must not appear in run states")
	}
	if result.States["dispatch"] != domain.NodeCompleted {
		t.Errorf("dispatch state = %s", result.States["dispatch"])
	}

	entries, ok := result.Outputs["dispatch"]["results"].([]any)
	if !ok || len(entries) != 2 {
		t.Fatalf("dispatch results = %#v, want two entries", result.Outputs["dispatch"]["results"])
	}

	first, ok := entries[0].(map[string]any)
	if !ok || first["name"] != "alpha" {
		t.Fatalf("first entry = %#v", entries[0])
	}
	firstOut, _ := first["outputs"].(map[string]any)
	if firstOut["output"] != "ping" {
		t.Errorf("alpha output = %#v", firstOut)
	}

	second, ok := entries[1].(map[string]any)
	if !ok || second["name"] != "beta" {
		t.Fatalf("second entry = %#v", entries[1])
	}
	secondOut, _ := second["outputs"].(map[string]any)
	if secondOut["output"] != "running audit" {
		t.Errorf("beta output = %#v", secondOut)
	}

	if got := result.Outputs["dispatch"]["failed"]; got != 0 {
		t.Errorf("failed count = %#v", got)
	}
}

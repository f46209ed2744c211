package components

import (
	"context"
	"fmt"

	"github.com/Scopeo/draftnrun/pkg/domain"
	"github.com/Scopeo/draftnrun/pkg/engine"
	"github.com/Scopeo/draftnrun/pkg/engine/expr"
	"github.com/Scopeo/draftnrun/pkg/engine/runtime"
)

// toolRunnerComponent dispatches a fixed set of embedded sub-components
// against the run input, the agent-style composition pattern: the parent
// owns its tools, the scheduler never sees them. Dispatch order follows
// the sub-component relation order; the instance's ParallelTools knob
// switches to concurrent fan-out with per-tool result slots.
//
// Sequential dispatch stops at the first failing tool and fails the
// node. Parallel dispatch always reports every tool and fails the node
// only when no tool succeeded.
type toolRunnerComponent struct {
	tools    []runtime.Component
	names    []string
	parallel bool
}

func toolRunnerRegistration() engine.Registration {
	definition := domain.ComponentDefinition{
		Type:        TypeToolRunner,
		Description: "Runs embedded sub-components sequentially or in parallel.",
		Parameters: []domain.ParameterDefinition{
			{Name: "tools", Type: domain.ParamComponent, Phases: []domain.ResolutionPhase{domain.PhaseConstructor}},
			{Name: "names", Type: domain.ParamList, Nullable: true, Phases: []domain.ResolutionPhase{domain.PhaseConstructor}},
			{Name: "input", Type: domain.ParamJSON, Nullable: true, Phases: []domain.ResolutionPhase{domain.PhaseRuntime}},
		},
		Ports: []domain.PortDefinition{
			{Name: "results", Direction: domain.PortOut, Canonical: true},
			{Name: "failed", Direction: domain.PortOut},
		},
	}

	return engine.Registration{
		Definition: definition,
		Factory:    newToolRunnerComponent,
		Processors: []engine.ParamProcessor{engine.DefaultsProcessor(definition)},
	}
}

func newToolRunnerComponent(ctx context.Context, args map[string]any) (runtime.Component, error) {
	var tools []runtime.Component
	switch v := args["tools"].(type) {
	case []runtime.Component:
		tools = v
	case runtime.Component:
		tools = []runtime.Component{v}
	default:
		return nil, fmt.Errorf("tool_runner: tools requires at least one sub-component")
	}

	var names []string
	if raw, bound := args["names"].([]any); bound {
		names = make([]string, 0, len(raw))
		for _, item := range raw {
			names = append(names, expr.Stringify(item))
		}
	}

	cfg, _ := engine.InstanceConfigFromContext(ctx)

	return &toolRunnerComponent{
		tools:    tools,
		names:    names,
		parallel: cfg.ParallelTools,
	}, nil
}

func (c *toolRunnerComponent) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	results := runtime.DispatchTools(ctx, c.tools, c.names, toolInputs(inputs["input"]), c.parallel)

	entries := make([]any, 0, len(results))
	failed := 0
	for _, result := range results {
		entry := map[string]any{"name": result.Name}
		if result.Err != nil {
			failed++
			entry["error"] = result.Err.Error()
		} else {
			entry["outputs"] = result.Outputs
		}
		entries = append(entries, entry)
	}

	if failed > 0 {
		if !c.parallel {
			last := results[len(results)-1]
			return nil, fmt.Errorf("tool_runner: tool %q: %w", last.Name, last.Err)
		}
		if failed == len(results) {
			return nil, fmt.Errorf("tool_runner: all %d tools failed", failed)
		}
	}

	return map[string]any{
		"results": entries,
		"failed":  failed,
	}, nil
}

// toolInputs shapes the run input for dispatch: an object fans out as
// the sub-tools' input map verbatim, anything else is wrapped under
// "value" so simple tools still see it.
func toolInputs(raw any) map[string]any {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	default:
		return map[string]any{"value": v}
	}
}

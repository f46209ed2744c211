package components

import (
	"context"
	"fmt"

	"github.com/Scopeo/draftnrun/pkg/domain"
	"github.com/Scopeo/draftnrun/pkg/engine"
	"github.com/Scopeo/draftnrun/pkg/engine/runtime"
)

// staticComponent publishes a fixed set of values on every run. Each key
// of the constructor-bound object becomes an output port, which makes it
// the usual way to feed constants and fixtures into a graph.
type staticComponent struct {
	values map[string]any
}

func staticRegistration() engine.Registration {
	definition := domain.ComponentDefinition{
		Type:        TypeStatic,
		Description: "Publishes constructor-bound values, one output port per key.",
		Parameters: []domain.ParameterDefinition{
			{Name: "values", Type: domain.ParamJSON, Phases: []domain.ResolutionPhase{domain.PhaseConstructor}},
		},
	}

	return engine.Registration{
		Definition: definition,
		Factory:    newStaticComponent,
		Processors: []engine.ParamProcessor{
			engine.ExpandEnvProcessor(),
			engine.DefaultsProcessor(definition),
		},
	}
}

func newStaticComponent(_ context.Context, args map[string]any) (runtime.Component, error) {
	values := mapArg(args, "values")
	if values == nil {
		return nil, fmt.Errorf("static: values must be a JSON object")
	}
	return &staticComponent{values: values}, nil
}

func (c *staticComponent) Run(_ context.Context, _ map[string]any) (map[string]any, error) {
	// Copy per run: downstream nodes receive these maps and must not be
	// able to corrupt the next run's values.
	outputs := make(map[string]any, len(c.values))
	for key, value := range c.values {
		outputs[key] = cloneValue(value)
	}
	return outputs, nil
}

package components

import (
	"context"

	"github.com/Scopeo/draftnrun/pkg/domain"
	"github.com/Scopeo/draftnrun/pkg/engine"
	"github.com/Scopeo/draftnrun/pkg/engine/runtime"
)

func echoRegistration() engine.Registration {
	definition := domain.ComponentDefinition{
		Type:        TypeEcho,
		Description: "Republishes its runtime value unchanged.",
		Parameters: []domain.ParameterDefinition{
			{Name: "value", Type: domain.ParamJSON, Nullable: true, Phases: []domain.ResolutionPhase{domain.PhaseRuntime}},
		},
		Ports: []domain.PortDefinition{
			{Name: "output", Direction: domain.PortOut, Canonical: true},
		},
	}

	return engine.Registration{
		Definition: definition,
		Factory: func(_ context.Context, _ map[string]any) (runtime.Component, error) {
			return runtime.ComponentFunc(func(_ context.Context, inputs map[string]any) (map[string]any, error) {
				return map[string]any{"output": inputs["value"]}, nil
			}), nil
		},
		Processors: []engine.ParamProcessor{engine.DefaultsProcessor(definition)},
	}
}

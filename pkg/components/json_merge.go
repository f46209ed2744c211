package components

import (
	"context"
	"fmt"

	"github.com/Scopeo/draftnrun/pkg/domain"
	"github.com/Scopeo/draftnrun/pkg/engine"
	"github.com/Scopeo/draftnrun/pkg/engine/runtime"
)

// jsonMergeComponent merges two JSON objects. In deep mode nested
// objects merge recursively and everything else overwrites; in shallow
// mode overlay keys replace base keys wholesale.
type jsonMergeComponent struct {
	deep bool
}

func jsonMergeRegistration() engine.Registration {
	definition := domain.ComponentDefinition{
		Type:        TypeJSONMerge,
		Description: "Merges the overlay object into the base object.",
		Parameters: []domain.ParameterDefinition{
			{Name: "deep", Type: domain.ParamBool, Default: true, Phases: []domain.ResolutionPhase{domain.PhaseConstructor}},
			{Name: "base", Type: domain.ParamJSON, Nullable: true, Phases: []domain.ResolutionPhase{domain.PhaseRuntime}},
			{Name: "overlay", Type: domain.ParamJSON, Nullable: true, Phases: []domain.ResolutionPhase{domain.PhaseRuntime}},
		},
		Ports: []domain.PortDefinition{
			{Name: "output", Direction: domain.PortOut, Canonical: true},
		},
	}

	return engine.Registration{
		Definition: definition,
		Factory: func(_ context.Context, args map[string]any) (runtime.Component, error) {
			return &jsonMergeComponent{deep: boolArg(args, "deep", true)}, nil
		},
		Processors: []engine.ParamProcessor{engine.DefaultsProcessor(definition)},
	}
}

func (c *jsonMergeComponent) Run(_ context.Context, inputs map[string]any) (map[string]any, error) {
	base, err := objectInput(inputs, "base")
	if err != nil {
		return nil, err
	}
	overlay, err := objectInput(inputs, "overlay")
	if err != nil {
		return nil, err
	}

	merged := cloneValue(base).(map[string]any)
	for key, value := range overlay {
		if c.deep {
			merged[key] = mergeValue(merged[key], value)
		} else {
			merged[key] = cloneValue(value)
		}
	}

	return map[string]any{"output": merged}, nil
}

// objectInput fetches an input that must be a JSON object when present.
func objectInput(inputs map[string]any, key string) (map[string]any, error) {
	raw, bound := inputs[key]
	if !bound || raw == nil {
		return map[string]any{}, nil
	}
	object, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("json_merge: %s must be a JSON object, got %T", key, raw)
	}
	return object, nil
}

func mergeValue(base, overlay any) any {
	baseMap, baseOK := base.(map[string]any)
	overlayMap, overlayOK := overlay.(map[string]any)
	if !baseOK || !overlayOK {
		return cloneValue(overlay)
	}

	merged := cloneValue(baseMap).(map[string]any)
	for key, value := range overlayMap {
		merged[key] = mergeValue(merged[key], value)
	}
	return merged
}

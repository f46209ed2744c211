package components

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Scopeo/draftnrun/pkg/domain"
	"github.com/Scopeo/draftnrun/pkg/engine"
	"github.com/Scopeo/draftnrun/pkg/engine/expr"
	"github.com/Scopeo/draftnrun/pkg/engine/runtime"
)

var templatePlaceholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.-]*)\s*\}\}`)

// templateComponent renders a fixed template against per-run variables.
// Placeholders take the form {{name}}; values render through the same
// lossy stringification the expression language uses for concatenation,
// so objects and lists appear as their JSON text. Placeholders with no
// matching variable stay in the output verbatim, which keeps a missing
// binding visible instead of silently blank.
type templateComponent struct {
	template string
}

func templateRegistration() engine.Registration {
	definition := domain.ComponentDefinition{
		Type:        TypeTemplate,
		Description: "Renders a {{placeholder}} template from runtime variables.",
		Parameters: []domain.ParameterDefinition{
			{Name: "template", Type: domain.ParamString, Phases: []domain.ResolutionPhase{domain.PhaseConstructor}},
			{Name: "variables", Type: domain.ParamJSON, Nullable: true, Phases: []domain.ResolutionPhase{domain.PhaseRuntime}},
		},
		Ports: []domain.PortDefinition{
			{Name: "output", Direction: domain.PortOut, Canonical: true},
		},
	}

	return engine.Registration{
		Definition: definition,
		Factory:    newTemplateComponent,
		Processors: []engine.ParamProcessor{
			engine.ExpandEnvProcessor(),
			engine.DefaultsProcessor(definition),
		},
	}
}

func newTemplateComponent(_ context.Context, args map[string]any) (runtime.Component, error) {
	template, ok := args["template"].(string)
	if !ok {
		return nil, fmt.Errorf("template: template must be a string")
	}
	return &templateComponent{template: template}, nil
}

func (c *templateComponent) Run(_ context.Context, inputs map[string]any) (map[string]any, error) {
	variables := mapArg(inputs, "variables")

	rendered := templatePlaceholder.ReplaceAllStringFunc(c.template, func(match string) string {
		name := templatePlaceholder.FindStringSubmatch(match)[1]
		value, bound := variables[strings.TrimSpace(name)]
		if !bound {
			return match
		}
		return expr.Stringify(value)
	})

	return map[string]any{"output": rendered}, nil
}

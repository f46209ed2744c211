package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Scopeo/draftnrun/pkg/domain"
	"github.com/Scopeo/draftnrun/pkg/engine/expr"
)

// ToDomain converts the graph document to a domain graph definition,
// normalizing the legacy edge/template form into field expression
// bindings. The unified binding wins when both forms target the same
// parameter of the same instance.
func (s GraphSpec) ToDomain() (domain.GraphDefinition, error) {
	legacy := s.IsLegacy()

	def := domain.GraphDefinition{
		ID:          s.ID,
		Name:        s.Name,
		Version:     s.Version,
		StartNodes:  append([]string(nil), s.StartNodes...),
		OutputNodes: append([]string(nil), s.OutputNodes...),
	}

	def.Instances = make([]domain.ComponentInstance, 0, len(s.Instances))
	for _, instSpec := range s.Instances {
		inst, err := instSpec.ToDomain(legacy)
		if err != nil {
			return domain.GraphDefinition{}, fmt.Errorf("instance %q: %w", instSpec.ID, err)
		}
		def.Instances = append(def.Instances, inst)
	}

	def.Edges = make([]domain.LegacyEdge, 0, len(s.Edges))
	for i, edgeSpec := range s.Edges {
		edge, err := edgeSpec.ToDomain()
		if err != nil {
			return domain.GraphDefinition{}, fmt.Errorf("edge %d: %w", i, err)
		}
		def.Edges = append(def.Edges, edge)

		target, ok := def.Instance(edge.To)
		if !ok {
			return domain.GraphDefinition{}, fmt.Errorf("edge %d: %w: unknown instance %q", i, domain.ErrDanglingReference, edge.To)
		}
		if hasBinding(target, edge.ToPort) {
			// Unified binding wins over the legacy wire.
			continue
		}
		target.Bindings = append(target.Bindings, domain.ParameterBinding{
			Parameter: edge.ToPort,
			Phase:     domain.PhaseRuntime,
			Value:     domain.Ref{InstanceID: edge.From, Port: edge.FromPort},
		})
	}

	return def, nil
}

func hasBinding(inst *domain.ComponentInstance, param string) bool {
	for _, b := range inst.Bindings {
		if b.Parameter == param {
			return true
		}
	}
	return false
}

// ToDomain converts an instance spec. Bindings are emitted in sorted
// parameter order so conversion output is reproducible. In legacy mode,
// param values are scanned for bracket templates; a value that resolves
// to other nodes' outputs becomes a runtime binding.
func (s InstanceSpec) ToDomain(legacy bool) (domain.ComponentInstance, error) {
	inst := domain.ComponentInstance{
		ID:   s.ID,
		Type: s.Type,
		Name: s.Name,
	}
	if s.ID == "" {
		return domain.ComponentInstance{}, fmt.Errorf("instance missing id")
	}
	if s.Type == "" {
		return domain.ComponentInstance{}, fmt.Errorf("instance missing type")
	}

	for name := range s.Inputs {
		if _, dup := s.Params[name]; dup {
			return domain.ComponentInstance{}, fmt.Errorf("parameter %q bound in both params and inputs", name)
		}
	}

	for _, name := range sortedSpecKeys(s.Params) {
		value, err := s.Params[name].ToExpression()
		if err != nil {
			return domain.ComponentInstance{}, fmt.Errorf("param %q: %w", name, err)
		}
		phase := domain.PhaseConstructor
		if legacy {
			value = legacyExpression(value)
			if expr.HasRefs(value) {
				phase = domain.PhaseRuntime
			}
		}
		inst.Bindings = append(inst.Bindings, domain.ParameterBinding{
			Parameter: name,
			Phase:     phase,
			Value:     value,
		})
	}

	for _, name := range sortedSpecKeys(s.Inputs) {
		value, err := s.Inputs[name].ToExpression()
		if err != nil {
			return domain.ComponentInstance{}, fmt.Errorf("input %q: %w", name, err)
		}
		inst.Bindings = append(inst.Bindings, domain.ParameterBinding{
			Parameter: name,
			Phase:     domain.PhaseRuntime,
			Value:     value,
		})
	}

	for _, sub := range s.Components {
		if sub.Name == "" || sub.Child == "" {
			return domain.ComponentInstance{}, fmt.Errorf("sub-component requires name and child")
		}
		inst.SubComponents = append(inst.SubComponents, domain.SubComponentRelation{
			Name:    sub.Name,
			ChildID: sub.Child,
			Order:   sub.Order,
		})
	}

	if s.Config != nil {
		inst.Config = s.Config.ToDomain()
	}

	return inst, nil
}

// ToDomain converts a legacy edge, defaulting the source port.
func (s EdgeSpec) ToDomain() (domain.LegacyEdge, error) {
	if s.From == "" || s.To == "" {
		return domain.LegacyEdge{}, fmt.Errorf("edge requires from and to")
	}
	if s.ToPort == "" {
		return domain.LegacyEdge{}, fmt.Errorf("edge requires toPort")
	}
	fromPort := s.FromPort
	if fromPort == "" {
		fromPort = domain.DefaultOutputPort
	}
	return domain.LegacyEdge{
		From:     s.From,
		FromPort: fromPort,
		To:       s.To,
		ToPort:   s.ToPort,
	}, nil
}

// ToDomain converts per-node execution settings.
func (s InstanceConfigSpec) ToDomain() domain.InstanceConfig {
	cfg := domain.InstanceConfig{
		Timeout:       time.Duration(s.TimeoutMS) * time.Millisecond,
		ParallelTools: s.ParallelTools,
	}
	if s.Retries != nil {
		r := s.Retries.ToDomain()
		cfg.Retry = &r
	}
	return cfg
}

// ToDomain converts retry settings.
func (s RetrySpec) ToDomain() domain.RetryConfig {
	return domain.RetryConfig{
		MaxAttempts: s.MaxAttempts,
		BaseBackoff: time.Duration(s.BaseMS) * time.Millisecond,
		MaxBackoff:  time.Duration(s.MaxMS) * time.Millisecond,
	}
}

// ToExpression converts the persisted expression to its domain form.
func (e ExpressionSpec) ToExpression() (domain.FieldExpression, error) {
	switch e.kind {
	case exprLiteral:
		return domain.Literal{Value: e.literal}, nil
	case exprRef:
		return domain.Ref{InstanceID: e.ref.Instance, Port: e.ref.Port, Key: e.ref.Key}, nil
	case exprConcat:
		parts := make([]domain.FieldExpression, 0, len(e.concat))
		for i, part := range e.concat {
			converted, err := part.ToExpression()
			if err != nil {
				return nil, fmt.Errorf("concat part %d: %w", i, err)
			}
			parts = append(parts, converted)
		}
		return domain.Concat{Parts: parts}, nil
	case exprJSON:
		refs := make(map[string]domain.FieldExpression, len(e.jsonb.Refs))
		for _, key := range sortedSpecKeys(e.jsonb.Refs) {
			converted, err := e.jsonb.Refs[key].ToExpression()
			if err != nil {
				return nil, fmt.Errorf("json ref %q: %w", key, err)
			}
			refs[key] = converted
		}
		return domain.JSONBuild{Template: e.jsonb.Template, Refs: refs}, nil
	case exprTemplate:
		return expr.ParseTemplate(e.template), nil
	default:
		return nil, fmt.Errorf("unknown expression kind %d", e.kind)
	}
}

// legacyExpression rewrites a converted literal for the legacy form:
// a bare string is parsed as a bracket template, and a structured value
// whose string leaves carry templates becomes a JSONBuild keyed by those
// leaves. Any other value passes through unchanged.
func legacyExpression(value domain.FieldExpression) domain.FieldExpression {
	lit, ok := value.(domain.Literal)
	if !ok {
		return value
	}
	switch v := lit.Value.(type) {
	case string:
		return expr.ParseTemplate(v)
	case map[string]any, []any:
		leaves := map[string]domain.FieldExpression{}
		collectTemplateLeaves(v, leaves)
		if len(leaves) == 0 {
			return value
		}
		return domain.JSONBuild{Template: v, Refs: leaves}
	default:
		return value
	}
}

// collectTemplateLeaves finds string leaves containing bracket templates.
// Each such leaf becomes its own substitution key, so JSONBuild replaces
// it in place with the template's evaluated value.
func collectTemplateLeaves(v any, out map[string]domain.FieldExpression) {
	switch val := v.(type) {
	case map[string]any:
		for _, item := range val {
			collectTemplateLeaves(item, out)
		}
	case []any:
		for _, item := range val {
			collectTemplateLeaves(item, out)
		}
	case string:
		if !strings.Contains(val, "{{") {
			return
		}
		parsed := expr.ParseTemplate(val)
		if expr.HasRefs(parsed) {
			out[val] = parsed
		}
	}
}

func sortedSpecKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// GraphSpec encodes one persisted graph document.
//
// Two document forms are accepted. The unified form binds named
// parameters to field expressions via params (constructor phase) and
// inputs (runtime phase). The legacy form wires ports with edges and
// embeds {{@node.port}} templates in params; it is normalized into the
// unified form when converted to the domain model. A document is treated
// as legacy when it declares legacy: true or carries at least one edge.
type GraphSpec struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	Version     string         `json:"version,omitempty" yaml:"version,omitempty"`
	Instances   []InstanceSpec `json:"instances" yaml:"instances"`
	StartNodes  []string       `json:"startNodes,omitempty" yaml:"startNodes,omitempty"`
	OutputNodes []string       `json:"outputNodes,omitempty" yaml:"outputNodes,omitempty"`
	Edges       []EdgeSpec     `json:"edges,omitempty" yaml:"edges,omitempty"`
	Legacy      bool           `json:"legacy,omitempty" yaml:"legacy,omitempty"`
}

// IsLegacy reports whether the document uses the legacy edge/template form.
func (s GraphSpec) IsLegacy() bool {
	return s.Legacy || len(s.Edges) > 0
}

// InstanceSpec represents one configured component instance.
type InstanceSpec struct {
	ID         string                    `json:"id" yaml:"id"`
	Type       string                    `json:"type" yaml:"type"`
	Name       string                    `json:"name,omitempty" yaml:"name,omitempty"`
	Params     map[string]ExpressionSpec `json:"params,omitempty" yaml:"params,omitempty"`
	Inputs     map[string]ExpressionSpec `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Components []SubComponentSpec        `json:"components,omitempty" yaml:"components,omitempty"`
	Config     *InstanceConfigSpec       `json:"config,omitempty" yaml:"config,omitempty"`
}

// SubComponentSpec attaches a child instance to a parent under a name.
// Entries sharing a name form an ordered list.
type SubComponentSpec struct {
	Name  string `json:"name" yaml:"name"`
	Child string `json:"child" yaml:"child"`
	Order int    `json:"order,omitempty" yaml:"order,omitempty"`
}

// InstanceConfigSpec holds per-node execution settings.
type InstanceConfigSpec struct {
	TimeoutMS     int        `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	Retries       *RetrySpec `json:"retries,omitempty" yaml:"retries,omitempty"`
	ParallelTools bool       `json:"parallelTools,omitempty" yaml:"parallelTools,omitempty"`
}

// RetrySpec defines retry behavior for transient node failures.
type RetrySpec struct {
	MaxAttempts int `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty"`
	BaseMS      int `json:"baseMs,omitempty" yaml:"baseMs,omitempty"`
	MaxMS       int `json:"maxMs,omitempty" yaml:"maxMs,omitempty"`
}

// EdgeSpec represents a legacy port-to-port wire between two nodes.
type EdgeSpec struct {
	From     string `json:"from" yaml:"from"`
	FromPort string `json:"fromPort,omitempty" yaml:"fromPort,omitempty"`
	To       string `json:"to" yaml:"to"`
	ToPort   string `json:"toPort,omitempty" yaml:"toPort,omitempty"`
}

// RefSpec names another node's output, optionally indexed by a key.
type RefSpec struct {
	Instance string `json:"instance" yaml:"instance"`
	Port     string `json:"port" yaml:"port"`
	Key      string `json:"key,omitempty" yaml:"key,omitempty"`
}

// JSONBuildSpec is the persisted form of a structure-preserving template:
// scalar leaves of Template equal to a key in Refs are replaced with the
// evaluated value of that key's expression.
type JSONBuildSpec struct {
	Template any                       `json:"template" yaml:"template"`
	Refs     map[string]ExpressionSpec `json:"refs" yaml:"refs"`
}

type exprKind int

const (
	exprLiteral exprKind = iota
	exprRef
	exprConcat
	exprJSON
	exprTemplate
)

// ExpressionSpec is the persisted form of a field expression. A mapping
// whose keys all belong to {literal, ref, concat, json, template} selects
// exactly one explicit form; any other value decodes as a plain literal.
// A literal mapping that happens to use one of the reserved keys must be
// written under an explicit literal key.
type ExpressionSpec struct {
	kind     exprKind
	literal  any
	ref      *RefSpec
	concat   []ExpressionSpec
	jsonb    *JSONBuildSpec
	template string
}

// LiteralExpr builds a literal expression spec, mainly for tests and
// programmatic graph construction.
func LiteralExpr(v any) ExpressionSpec {
	return ExpressionSpec{kind: exprLiteral, literal: v}
}

// RefExpr builds a reference expression spec.
func RefExpr(instance, port, key string) ExpressionSpec {
	return ExpressionSpec{kind: exprRef, ref: &RefSpec{Instance: instance, Port: port, Key: key}}
}

// TemplateExpr builds a bracket-template expression spec.
func TemplateExpr(s string) ExpressionSpec {
	return ExpressionSpec{kind: exprTemplate, template: s}
}

var exprKeys = map[string]struct{}{
	"literal":  {},
	"ref":      {},
	"concat":   {},
	"json":     {},
	"template": {},
}

// isExprMapping reports whether every key of the mapping node is one of
// the reserved expression keys.
func isExprMapping(node *yaml.Node) bool {
	if node.Kind != yaml.MappingNode || len(node.Content) == 0 {
		return false
	}
	for i := 0; i < len(node.Content); i += 2 {
		if _, ok := exprKeys[node.Content[i].Value]; !ok {
			return false
		}
	}
	return true
}

// UnmarshalYAML implements the tagged-union decoding described on the type.
func (e *ExpressionSpec) UnmarshalYAML(node *yaml.Node) error {
	if !isExprMapping(node) {
		var v any
		if err := node.Decode(&v); err != nil {
			return err
		}
		*e = ExpressionSpec{kind: exprLiteral, literal: v}
		return nil
	}

	var fields struct {
		Literal  *yaml.Node       `yaml:"literal"`
		Ref      *RefSpec         `yaml:"ref"`
		Concat   []ExpressionSpec `yaml:"concat"`
		JSON     *JSONBuildSpec   `yaml:"json"`
		Template *string          `yaml:"template"`
	}
	if err := node.Decode(&fields); err != nil {
		return err
	}

	set := 0
	if fields.Literal != nil {
		set++
	}
	if fields.Ref != nil {
		set++
	}
	if fields.Concat != nil {
		set++
	}
	if fields.JSON != nil {
		set++
	}
	if fields.Template != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("expression must set exactly one of literal, ref, concat, json, template (got %d)", set)
	}

	switch {
	case fields.Literal != nil:
		var v any
		if err := fields.Literal.Decode(&v); err != nil {
			return err
		}
		*e = ExpressionSpec{kind: exprLiteral, literal: v}
	case fields.Ref != nil:
		if fields.Ref.Instance == "" || fields.Ref.Port == "" {
			return fmt.Errorf("ref expression requires instance and port")
		}
		*e = ExpressionSpec{kind: exprRef, ref: fields.Ref}
	case fields.Concat != nil:
		*e = ExpressionSpec{kind: exprConcat, concat: fields.Concat}
	case fields.JSON != nil:
		*e = ExpressionSpec{kind: exprJSON, jsonb: fields.JSON}
	default:
		*e = ExpressionSpec{kind: exprTemplate, template: *fields.Template}
	}
	return nil
}

// ParseGraph decodes one graph document from YAML bytes. JSON documents
// are accepted too since JSON is a YAML subset.
func ParseGraph(data []byte) (GraphSpec, error) {
	var spec GraphSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return GraphSpec{}, fmt.Errorf("failed to parse graph document: %w", err)
	}
	if spec.ID == "" {
		return GraphSpec{}, fmt.Errorf("graph document missing id")
	}
	return spec, nil
}

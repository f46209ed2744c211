// Package expr evaluates field expressions against the outputs upstream
// nodes have already produced. Evaluation is pure: no side effects, and the
// same (expression, outputs) pair always yields the same value.
package expr

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Scopeo/draftnrun/pkg/domain"
)

// Outputs maps instance id to the values that instance published per
// output port. Only completed nodes appear; the map is treated as
// immutable during evaluation.
type Outputs map[string]map[string]any

// Evaluate computes the concrete value of a field expression.
//
// Literal yields its value verbatim. Ref looks up outputs[id][port] and
// fails with domain.ErrMissingUpstreamOutput when the node or port is
// absent; a non-empty key indexes into a dict-shaped value and fails with
// domain.ErrKeyNotFound otherwise. Concat joins the stringified parts,
// serializing non-string parts to JSON text (lossy, documented). JSONBuild
// deep-copies its template and substitutes placeholder leaves with the
// type-preserved value of the mapped expression.
func Evaluate(e domain.FieldExpression, outputs Outputs) (any, error) {
	switch v := e.(type) {
	case domain.Literal:
		return v.Value, nil
	case domain.Ref:
		return evaluateRef(v, outputs)
	case domain.Concat:
		return evaluateConcat(v, outputs)
	case domain.JSONBuild:
		return evaluateJSONBuild(v, outputs)
	case nil:
		return nil, fmt.Errorf("%w: nil expression", domain.ErrTypeMismatch)
	default:
		return nil, fmt.Errorf("%w: unsupported expression %T", domain.ErrTypeMismatch, e)
	}
}

func evaluateRef(r domain.Ref, outputs Outputs) (any, error) {
	ports, ok := outputs[r.InstanceID]
	if !ok {
		return nil, fmt.Errorf("%w: instance %q", domain.ErrMissingUpstreamOutput, r.InstanceID)
	}
	value, ok := ports[r.Port]
	if !ok {
		return nil, fmt.Errorf("%w: instance %q port %q", domain.ErrMissingUpstreamOutput, r.InstanceID, r.Port)
	}
	if r.Key == "" {
		return value, nil
	}
	dict, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: output of %q port %q is %T, not a dict",
			domain.ErrKeyNotFound, r.InstanceID, r.Port, value)
	}
	field, ok := dict[r.Key]
	if !ok {
		return nil, fmt.Errorf("%w: key %q in output of %q port %q",
			domain.ErrKeyNotFound, r.Key, r.InstanceID, r.Port)
	}
	return field, nil
}

func evaluateConcat(c domain.Concat, outputs Outputs) (any, error) {
	var builder strings.Builder
	for _, part := range c.Parts {
		value, err := Evaluate(part, outputs)
		if err != nil {
			return nil, err
		}
		builder.WriteString(Stringify(value))
	}
	return builder.String(), nil
}

func evaluateJSONBuild(b domain.JSONBuild, outputs Outputs) (any, error) {
	resolved := make(map[string]any, len(b.Refs))
	for _, key := range sortedKeys(b.Refs) {
		value, err := Evaluate(b.Refs[key], outputs)
		if err != nil {
			return nil, err
		}
		resolved[key] = value
	}
	return substitute(deepCopy(b.Template), resolved), nil
}

// substitute walks a JSON-shaped value and replaces every string leaf that
// names a resolved placeholder with the placeholder's typed value. Leaves
// matching no placeholder are ordinary template content and stay literal.
func substitute(template any, resolved map[string]any) any {
	switch t := template.(type) {
	case map[string]any:
		for k, v := range t {
			t[k] = substitute(v, resolved)
		}
		return t
	case []any:
		for i, v := range t {
			t[i] = substitute(v, resolved)
		}
		return t
	case string:
		if value, ok := resolved[t]; ok {
			return value
		}
		return t
	default:
		return template
	}
}

// Stringify renders a value for string concatenation. Strings pass through,
// nil renders empty, and everything else (numbers, bools, containers) is
// serialized to its JSON text. Container structure is lost by design.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

// deepCopy clones JSON-shaped values so template substitution never
// mutates the stored expression.
func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}

func sortedKeys(refs map[string]domain.FieldExpression) []string {
	keys := make([]string, 0, len(refs))
	for k := range refs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package components ships the built-in component set for the graph
// engine. Each component implements runtime.Component and registers
// through RegisterBuiltins; together they cover value sources (static,
// echo), payload shaping (template, json_merge), outbound calls
// (http_call), content governance (policy_gate, redact) and sub-tool
// composition (tool_runner). The built-ins stand in for heavier
// integrations in tests and demos, and double as the reference for
// writing new component types.
package components

import (
	"github.com/Scopeo/draftnrun/pkg/engine"
)

// Registered component type names.
const (
	TypeStatic     = "static"
	TypeEcho       = "echo"
	TypeTemplate   = "template"
	TypeJSONMerge  = "json_merge"
	TypeHTTPCall   = "http_call"
	TypePolicyGate = "policy_gate"
	TypeRedact     = "redact"
	TypeToolRunner = "tool_runner"
)

// RegisterBuiltins installs the built-in component set into a registry.
// It fails on the first registration error, which only happens when the
// registry already carries one of the built-in type names.
func RegisterBuiltins(reg *engine.Registry) error {
	registrations := []engine.Registration{
		staticRegistration(),
		echoRegistration(),
		templateRegistration(),
		jsonMergeRegistration(),
		httpCallRegistration(),
		policyGateRegistration(),
		redactRegistration(),
		toolRunnerRegistration(),
	}

	for _, registration := range registrations {
		if err := reg.Register(registration); err != nil {
			return err
		}
	}
	return nil
}

// stringArg reads a string argument, falling back when absent or not a
// string.
func stringArg(args map[string]any, key, fallback string) string {
	if value, ok := args[key].(string); ok && value != "" {
		return value
	}
	return fallback
}

// intArg reads an integer argument. YAML and JSON decoding hand integers
// over as int, int64 or float64 depending on the path taken, so all
// three are accepted.
func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	default:
		return fallback
	}
}

func boolArg(args map[string]any, key string, fallback bool) bool {
	if value, ok := args[key].(bool); ok {
		return value
	}
	return fallback
}

func mapArg(args map[string]any, key string) map[string]any {
	value, _ := args[key].(map[string]any)
	return value
}

// cloneValue deep-copies JSON-shaped values so a component never leaks a
// mutable reference to its own state into the output map.
func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

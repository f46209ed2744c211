package components

import (
	"context"
	"reflect"
	"testing"

	"github.com/Scopeo/draftnrun/pkg/engine"
)

func TestRegisterBuiltins(t *testing.T) {
	reg := engine.NewRegistry()
	if err := RegisterBuiltins(reg); err != nil {
		t.Fatalf("register builtins failed: %v", err)
	}

	want := []string{
		TypeEcho, TypeHTTPCall, TypeJSONMerge, TypePolicyGate,
		TypeRedact, TypeStatic, TypeTemplate, TypeToolRunner,
	}
	if got := reg.Types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("registered types = %v, want %v", got, want)
	}

	if err := RegisterBuiltins(reg); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestEchoRepublishesValue(t *testing.T) {
	component, err := echoRegistration().Factory(context.Background(), nil)
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	outputs, err := component.Run(context.Background(), map[string]any{
		"value": map[string]any{"nested": []any{1.0, 2.0}},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	want := map[string]any{"nested": []any{1.0, 2.0}}
	if !reflect.DeepEqual(outputs["output"], want) {
		t.Fatalf("output = %#v, want %#v", outputs["output"], want)
	}

	// Unbound runtime input still yields the canonical port.
	outputs, err = component.Run(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if value, present := outputs["output"]; !present || value != nil {
		t.Fatalf("expected nil output port, got %#v", outputs)
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{
		"text":    "hello",
		"blank":   "",
		"int":     7,
		"int64":   int64(8),
		"float":   9.0,
		"enabled": true,
		"object":  map[string]any{"k": "v"},
	}

	if got := stringArg(args, "text", "fallback"); got != "hello" {
		t.Fatalf("stringArg = %q", got)
	}
	if got := stringArg(args, "blank", "fallback"); got != "fallback" {
		t.Fatalf("stringArg on empty = %q", got)
	}
	if got := stringArg(args, "missing", "fallback"); got != "fallback" {
		t.Fatalf("stringArg on missing = %q", got)
	}

	if got := intArg(args, "int", 0); got != 7 {
		t.Fatalf("intArg(int) = %d", got)
	}
	if got := intArg(args, "int64", 0); got != 8 {
		t.Fatalf("intArg(int64) = %d", got)
	}
	if got := intArg(args, "float", 0); got != 9 {
		t.Fatalf("intArg(float64) = %d", got)
	}
	if got := intArg(args, "missing", 42); got != 42 {
		t.Fatalf("intArg fallback = %d", got)
	}

	if !boolArg(args, "enabled", false) {
		t.Fatal("boolArg should read true")
	}
	if !boolArg(args, "missing", true) {
		t.Fatal("boolArg should fall back")
	}

	if got := mapArg(args, "object"); got["k"] != "v" {
		t.Fatalf("mapArg = %#v", got)
	}
	if got := mapArg(args, "text"); got != nil {
		t.Fatalf("mapArg on non-object = %#v", got)
	}
}

func TestCloneValueIsolates(t *testing.T) {
	original := map[string]any{
		"list":   []any{map[string]any{"deep": "x"}},
		"scalar": 1,
	}

	cloned := cloneValue(original).(map[string]any)
	cloned["list"].([]any)[0].(map[string]any)["deep"] = "mutated"

	if original["list"].([]any)[0].(map[string]any)["deep"] != "x" {
		t.Fatal("clone shares nested state with original")
	}
}

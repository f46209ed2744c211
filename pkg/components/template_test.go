package components

import (
	"context"
	"testing"
)

func TestTemplateRendersVariables(t *testing.T) {
	component, err := newTemplateComponent(context.Background(), map[string]any{
		"template": "Hello {{ name }}, you have {{count}} new items: {{items}}",
	})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	outputs, err := component.Run(context.Background(), map[string]any{
		"variables": map[string]any{
			"name":  "Ada",
			"count": 3.0,
			"items": []any{"a", "b"},
		},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	want := `Hello Ada, you have 3 new items: ["a","b"]`
	if outputs["output"] != want {
		t.Fatalf("output = %q, want %q", outputs["output"], want)
	}
}

func TestTemplateKeepsUnboundPlaceholders(t *testing.T) {
	component, err := newTemplateComponent(context.Background(), map[string]any{
		"template": "{{known}} and {{unknown}}",
	})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	outputs, err := component.Run(context.Background(), map[string]any{
		"variables": map[string]any{"known": "yes"},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if outputs["output"] != "yes and {{unknown}}" {
		t.Fatalf("output = %q", outputs["output"])
	}
}

func TestTemplateWithoutVariables(t *testing.T) {
	component, err := newTemplateComponent(context.Background(), map[string]any{
		"template": "static {{text}}",
	})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	outputs, err := component.Run(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if outputs["output"] != "static {{text}}" {
		t.Fatalf("output = %q", outputs["output"])
	}
}

func TestTemplateRequiresString(t *testing.T) {
	if _, err := newTemplateComponent(context.Background(), map[string]any{"template": 5}); err == nil {
		t.Fatal("expected error for non-string template")
	}
}

package components

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Scopeo/draftnrun/pkg/domain"
	"github.com/Scopeo/draftnrun/pkg/engine"
	"github.com/Scopeo/draftnrun/pkg/engine/runtime"
)

// orderedTool records its invocation order and echoes a tag.
func orderedTool(tag string, order *[]string, mu *sync.Mutex) runtime.Component {
	return runtime.ComponentFunc(func(_ context.Context, inputs map[string]any) (map[string]any, error) {
		mu.Lock()
		*order = append(*order, tag)
		mu.Unlock()
		return map[string]any{"tag": tag, "value": inputs["value"]}, nil
	})
}

func failingTool(message string) runtime.Component {
	return runtime.ComponentFunc(func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, errors.New(message)
	})
}

func TestToolRunnerSequential(t *testing.T) {
	var mu sync.Mutex
	var order []string

	component, err := newToolRunnerComponent(context.Background(), map[string]any{
		"tools": []runtime.Component{
			orderedTool("first", &order, &mu),
			orderedTool("second", &order, &mu),
		},
		"names": []any{"first", "second"},
	})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	outputs, err := component.Run(context.Background(), map[string]any{
		"input": map[string]any{"value": "shared"},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if fmt.Sprint(order) != "[first second]" {
		t.Fatalf("dispatch order = %v", order)
	}
	if outputs["failed"] != 0 {
		t.Fatalf("failed = %v", outputs["failed"])
	}

	entries := outputs["results"].([]any)
	if len(entries) != 2 {
		t.Fatalf("results = %#v", entries)
	}
	first := entries[0].(map[string]any)
	if first["name"] != "first" {
		t.Fatalf("first entry = %#v", first)
	}
	if first["outputs"].(map[string]any)["value"] != "shared" {
		t.Fatalf("tool did not receive run input: %#v", first)
	}
}

func TestToolRunnerSequentialStopsOnError(t *testing.T) {
	var mu sync.Mutex
	var order []string

	component, err := newToolRunnerComponent(context.Background(), map[string]any{
		"tools": []runtime.Component{
			failingTool("backend down"),
			orderedTool("never", &order, &mu),
		},
		"names": []any{"lookup", "summarize"},
	})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	_, err = component.Run(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), `tool "lookup"`) {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 0 {
		t.Fatalf("later tool ran after failure: %v", order)
	}
}

func TestToolRunnerParallelReportsAll(t *testing.T) {
	var mu sync.Mutex
	var order []string

	ctx := engine.WithInstanceConfig(context.Background(), domain.InstanceConfig{ParallelTools: true})
	component, err := newToolRunnerComponent(ctx, map[string]any{
		"tools": []runtime.Component{
			failingTool("backend down"),
			orderedTool("survivor", &order, &mu),
		},
	})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	outputs, err := component.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("partial failure must not fail parallel dispatch: %v", err)
	}

	if outputs["failed"] != 1 {
		t.Fatalf("failed = %v", outputs["failed"])
	}
	entries := outputs["results"].([]any)
	if len(entries) != 2 {
		t.Fatalf("results = %#v", entries)
	}
	if entries[0].(map[string]any)["error"] != "backend down" {
		t.Fatalf("first entry = %#v", entries[0])
	}
	if entries[0].(map[string]any)["name"] != "tool-0" {
		t.Fatalf("fallback name missing: %#v", entries[0])
	}
	if entries[1].(map[string]any)["outputs"] == nil {
		t.Fatalf("second entry = %#v", entries[1])
	}
}

func TestToolRunnerParallelAllFailed(t *testing.T) {
	ctx := engine.WithInstanceConfig(context.Background(), domain.InstanceConfig{ParallelTools: true})
	component, err := newToolRunnerComponent(ctx, map[string]any{
		"tools": []runtime.Component{failingTool("a"), failingTool("b")},
	})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	_, err = component.Run(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "all 2 tools failed") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestToolRunnerWrapsScalarInput(t *testing.T) {
	var captured map[string]any
	component, err := newToolRunnerComponent(context.Background(), map[string]any{
		"tools": runtime.ComponentFunc(func(_ context.Context, inputs map[string]any) (map[string]any, error) {
			captured = inputs
			return map[string]any{}, nil
		}),
	})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	if _, err := component.Run(context.Background(), map[string]any{"input": "plain"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if captured["value"] != "plain" {
		t.Fatalf("scalar input not wrapped: %#v", captured)
	}
}

func TestToolRunnerRequiresTools(t *testing.T) {
	if _, err := newToolRunnerComponent(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error for missing tools")
	}
}

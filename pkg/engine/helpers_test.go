package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/Scopeo/draftnrun/pkg/domain"
	"github.com/Scopeo/draftnrun/pkg/engine/runtime"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustRegister(t *testing.T, reg *Registry, r Registration) {
	t.Helper()
	if err := reg.Register(r); err != nil {
		t.Fatalf("Register(%q) error = %v", r.Definition.Type, err)
	}
}

// echoDefinition declares the smallest useful component: one runtime
// string input republished on the canonical output port.
func echoDefinition() domain.ComponentDefinition {
	return domain.ComponentDefinition{
		Type: "echo",
		Parameters: []domain.ParameterDefinition{
			{Name: "message", Type: domain.ParamString, Phases: []domain.ResolutionPhase{domain.PhaseRuntime}},
		},
		Ports: []domain.PortDefinition{
			{Name: "output", Direction: domain.PortOut, Canonical: true},
		},
	}
}

func registerEcho(t *testing.T, reg *Registry) {
	t.Helper()
	mustRegister(t, reg, Registration{
		Definition: echoDefinition(),
		Factory: func(context.Context, map[string]any) (runtime.Component, error) {
			return runtime.ComponentFunc(func(_ context.Context, inputs map[string]any) (map[string]any, error) {
				msg, _ := inputs["message"].(string)
				return map[string]any{"output": msg}, nil
			}), nil
		},
	})
}

// registerStatic installs "static": a constructor-only component whose
// "values" argument becomes its published outputs on every run.
func registerStatic(t *testing.T, reg *Registry) {
	t.Helper()
	mustRegister(t, reg, Registration{
		Definition: domain.ComponentDefinition{
			Type: "static",
			Parameters: []domain.ParameterDefinition{
				{Name: "values", Type: domain.ParamJSON, Phases: []domain.ResolutionPhase{domain.PhaseConstructor}},
			},
		},
		Factory: func(_ context.Context, args map[string]any) (runtime.Component, error) {
			values, ok := args["values"].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("static requires a values object, got %T", args["values"])
			}
			return runtime.ComponentFunc(func(context.Context, map[string]any) (map[string]any, error) {
				return values, nil
			}), nil
		},
	})
}

// registerFunc installs a component type backed by the given run
// function, declaring one runtime JSON parameter "in" so tests can wire
// dependencies through it.
func registerFunc(t *testing.T, reg *Registry, typeName string, run runtime.ComponentFunc) {
	t.Helper()
	mustRegister(t, reg, Registration{
		Definition: domain.ComponentDefinition{
			Type: typeName,
			Parameters: []domain.ParameterDefinition{
				{Name: "in", Type: domain.ParamJSON, Nullable: true, Phases: []domain.ResolutionPhase{domain.PhaseRuntime}},
			},
			Ports: []domain.PortDefinition{
				{Name: "output", Direction: domain.PortOut, Canonical: true},
			},
		},
		Factory: func(context.Context, map[string]any) (runtime.Component, error) {
			return run, nil
		},
	})
}

func constructorBinding(param string, e domain.FieldExpression) domain.ParameterBinding {
	return domain.ParameterBinding{Parameter: param, Phase: domain.PhaseConstructor, Value: e}
}

func runtimeBinding(param string, e domain.FieldExpression) domain.ParameterBinding {
	return domain.ParameterBinding{Parameter: param, Phase: domain.PhaseRuntime, Value: e}
}

func instance(id, typeName string, bindings ...domain.ParameterBinding) domain.ComponentInstance {
	return domain.ComponentInstance{ID: id, Type: typeName, Bindings: bindings}
}

// recorder collects node execution order across worker goroutines.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) add(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, id)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *recorder) index(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, got := range r.order {
		if got == id {
			return i
		}
	}
	return -1
}

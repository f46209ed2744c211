package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Scopeo/draftnrun/pkg/domain"
	"github.com/Scopeo/draftnrun/pkg/engine/runtime"
)

// Registration bundles everything the registry serves for one component
// type: its immutable definition, the factory that constructs instances,
// and an optional processor chain applied to constructor arguments before
// the factory runs.
type Registration struct {
	Definition domain.ComponentDefinition
	Factory    runtime.Factory
	Processors []ParamProcessor
}

// Registry is the process-wide mapping from component type name to
// factory. It is populated during startup and read-only afterwards, so
// lookups from concurrent builds need no coordination beyond the internal
// lock. The registry is threaded explicitly into the Builder rather than
// accessed as a global, which keeps the engine testable with fakes.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

// NewRegistry creates an empty component registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Register installs a component type. Registering an already-known type
// name fails with domain.ErrDuplicateComponentType; this is a startup-time
// error, never a request-time one.
func (r *Registry) Register(reg Registration) error {
	if reg.Definition.Type == "" {
		return fmt.Errorf("registration requires a component type name")
	}
	if reg.Factory == nil {
		return fmt.Errorf("registration for %q requires a factory", reg.Definition.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[reg.Definition.Type]; exists {
		return fmt.Errorf("%w: %q", domain.ErrDuplicateComponentType, reg.Definition.Type)
	}
	r.entries[reg.Definition.Type] = reg
	return nil
}

// Definition returns the registered definition for a type name.
func (r *Registry) Definition(typeName string) (domain.ComponentDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[typeName]
	return reg.Definition, ok
}

// Types lists the registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.entries))
	for name := range r.entries {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// Create instantiates a component. It fails with
// domain.ErrUnknownComponentType for unregistered names; factory and
// processor errors propagate wrapped with the type name. The processor
// chain runs left to right over a copy of args, so a later processor may
// overwrite keys an earlier one produced and callers never observe
// mutation of their argument map.
func (r *Registry) Create(ctx context.Context, typeName string, args map[string]any) (runtime.Component, error) {
	r.mu.RLock()
	reg, ok := r.entries[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownComponentType, typeName)
	}

	processed, err := applyProcessors(ctx, reg.Processors, args)
	if err != nil {
		return nil, fmt.Errorf("process arguments for %q: %w", typeName, err)
	}

	component, err := reg.Factory(ctx, processed)
	if err != nil {
		return nil, fmt.Errorf("construct %q: %w", typeName, err)
	}
	return component, nil
}

package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Scopeo/draftnrun/pkg/domain"
	"github.com/Scopeo/draftnrun/pkg/engine/expr"
	"github.com/Scopeo/draftnrun/pkg/engine/runtime"
)

// Resolver splits an instance's parameter bindings by resolution phase and
// resolves each side: constructor bindings once at build time, runtime
// bindings freshly per run against upstream outputs.
//
// Resolution accumulates: every bad binding of an instance is reported,
// not just the first, so a configuration with three violations surfaces
// all three in one pass.
type Resolver struct {
	registry *Registry
}

// NewResolver creates a resolver backed by the given registry's
// definitions.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

// ConstructorArgs validates every binding of the instance and resolves the
// constructor-phase ones into an argument map. Runtime bindings are only
// validated here (unknown parameter, illegal phase); their evaluation is
// deferred to the runner. Constructor expressions are evaluated with no
// upstream outputs, so any reference fails with
// domain.ErrInvalidConstructorReference. Declared defaults fill
// constructor parameters the configuration left unbound.
func (r *Resolver) ConstructorArgs(inst *domain.ComponentInstance) (map[string]any, error) {
	def, ok := r.registry.Definition(inst.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q (instance %q)", domain.ErrUnknownComponentType, inst.Type, inst.ID)
	}

	var errs []error
	args := make(map[string]any)

	for _, b := range inst.Bindings {
		param, known := def.Parameter(b.Parameter)
		if !known {
			errs = append(errs, bindingError(inst.ID, b.Parameter, fmt.Errorf("%w: not declared by type %q", domain.ErrUnknownParameter, inst.Type)))
			continue
		}
		if !param.AllowsPhase(b.Phase) {
			errs = append(errs, bindingError(inst.ID, b.Parameter, fmt.Errorf("%w: %s", domain.ErrInvalidPhase, b.Phase)))
			continue
		}
		if b.Phase != domain.PhaseConstructor {
			continue
		}
		if expr.HasRefs(b.Value) {
			errs = append(errs, bindingError(inst.ID, b.Parameter, domain.ErrInvalidConstructorReference))
			continue
		}
		value, err := expr.Evaluate(b.Value, nil)
		if err != nil {
			errs = append(errs, bindingError(inst.ID, b.Parameter, err))
			continue
		}
		if err := checkType(param, value); err != nil {
			errs = append(errs, bindingError(inst.ID, b.Parameter, err))
			continue
		}
		args[b.Parameter] = value
	}

	for _, param := range def.Parameters {
		if param.Default == nil || !param.AllowsPhase(domain.PhaseConstructor) {
			continue
		}
		if !bound(inst, param.Name) {
			args[param.Name] = param.Default
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return args, nil
}

// AttachChildren merges built sub-components into a constructor-argument
// map. Relations sharing a name form a positional list ordered by their
// declared order; a lone relation injects the component itself. A relation
// colliding with an explicit binding wins, mirroring the processor-chain
// rule that later producers overwrite earlier ones.
func (r *Resolver) AttachChildren(args map[string]any, inst *domain.ComponentInstance, children map[string]runtime.Component) error {
	if len(inst.SubComponents) == 0 {
		return nil
	}
	def, ok := r.registry.Definition(inst.Type)
	if !ok {
		return fmt.Errorf("%w: %q (instance %q)", domain.ErrUnknownComponentType, inst.Type, inst.ID)
	}

	relations := make([]domain.SubComponentRelation, len(inst.SubComponents))
	copy(relations, inst.SubComponents)
	sort.SliceStable(relations, func(i, j int) bool { return relations[i].Order < relations[j].Order })

	grouped := make(map[string][]runtime.Component)
	names := make([]string, 0)
	var errs []error
	for _, rel := range relations {
		child, built := children[rel.ChildID]
		if !built {
			errs = append(errs, bindingError(inst.ID, rel.Name, fmt.Errorf("%w: sub-component %q", domain.ErrDanglingReference, rel.ChildID)))
			continue
		}
		if _, seen := grouped[rel.Name]; !seen {
			names = append(names, rel.Name)
		}
		grouped[rel.Name] = append(grouped[rel.Name], child)
	}

	for _, name := range names {
		group := grouped[name]
		var value any
		if len(group) == 1 {
			value = group[0]
		} else {
			value = group
		}
		if param, declared := def.Parameter(name); declared {
			if err := checkType(param, value); err != nil {
				errs = append(errs, bindingError(inst.ID, name, err))
				continue
			}
		}
		args[name] = value
	}

	return errors.Join(errs...)
}

// RuntimeInputs resolves the instance's runtime-phase bindings against the
// outputs upstream nodes have published. Runtime parameters absent from
// the configuration are omitted from the input map, never defaulted.
func (r *Resolver) RuntimeInputs(inst *domain.ComponentInstance, outputs expr.Outputs) (map[string]any, error) {
	def, ok := r.registry.Definition(inst.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q (instance %q)", domain.ErrUnknownComponentType, inst.Type, inst.ID)
	}

	var errs []error
	inputs := make(map[string]any)

	for _, b := range inst.BindingsForPhase(domain.PhaseRuntime) {
		param, known := def.Parameter(b.Parameter)
		if !known {
			errs = append(errs, bindingError(inst.ID, b.Parameter, fmt.Errorf("%w: not declared by type %q", domain.ErrUnknownParameter, inst.Type)))
			continue
		}
		value, err := expr.Evaluate(b.Value, outputs)
		if err != nil {
			errs = append(errs, bindingError(inst.ID, b.Parameter, err))
			continue
		}
		if err := checkType(param, value); err != nil {
			errs = append(errs, bindingError(inst.ID, b.Parameter, err))
			continue
		}
		inputs[b.Parameter] = value
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return inputs, nil
}

func bound(inst *domain.ComponentInstance, param string) bool {
	for _, b := range inst.Bindings {
		if b.Parameter == param {
			return true
		}
	}
	return false
}

func bindingError(instanceID, parameter string, err error) error {
	return &domain.BindingError{InstanceID: instanceID, Parameter: parameter, Err: err}
}

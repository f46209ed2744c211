package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Scopeo/draftnrun/pkg/domain"
	"github.com/Scopeo/draftnrun/pkg/engine/expr"
	"github.com/Scopeo/draftnrun/pkg/engine/runtime"
	"github.com/Scopeo/draftnrun/pkg/storage"
	"github.com/Scopeo/draftnrun/pkg/telemetry"
)

// Node is one scheduled, fully constructed node of an executable graph.
type Node struct {
	Instance   *domain.ComponentInstance
	Component  runtime.Component
	Deps       []string // upstream scheduled node ids, sorted and deduplicated
	Dependents []string // downstream scheduled node ids, sorted
}

// Graph is the executable form of a definition: every instance
// constructed, sub-components attached to their parents, dependencies
// resolved and a topological order fixed. Embedded child instances are
// built but not scheduled; they run inside their parent.
type Graph struct {
	ID         string
	Name       string
	Version    string
	Definition *domain.GraphDefinition
	Nodes      map[string]*Node
	Order      []string // topological order over scheduled nodes
	StartNodes []string // zero-dependency entry nodes, sorted
}

// Builder turns graph definitions into executable graphs.
//
// Building is all or nothing. A first pass collects every structural
// violation (duplicate or reserved ids, unknown types, dangling
// references, cycles, bad bindings) before any component factory runs,
// so a definition with a cycle or a broken binding never constructs a
// partial graph. Factories run in a second pass, children before
// parents.
type Builder struct {
	registry    *Registry
	resolver    *Resolver
	store       storage.GraphStore
	sink        telemetry.TraceSink
	logger      *slog.Logger
	runDefaults RunOptions
}

// BuilderConfig holds the builder's collaborators. Registry is required;
// the store may be nil when only Build is used with in-memory
// definitions, and the sink defaults to a no-op.
type BuilderConfig struct {
	Registry    *Registry
	Store       storage.GraphStore
	Sink        telemetry.TraceSink
	Logger      *slog.Logger
	RunDefaults RunOptions
}

// NewBuilder creates a builder.
func NewBuilder(cfg BuilderConfig) *Builder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	return &Builder{
		registry:    cfg.Registry,
		resolver:    NewResolver(cfg.Registry),
		store:       cfg.Store,
		sink:        sink,
		logger:      logger,
		runDefaults: cfg.RunDefaults,
	}
}

// Resolver returns the resolver bound to the builder's registry, shared
// with the runner for runtime input resolution.
func (b *Builder) Resolver() *Resolver {
	return b.resolver
}

// BuildGraph loads a definition from the store, builds it, and wraps it
// in a runner carrying the builder's execution collaborators. This is
// the surface the API layer calls; the runner it returns is cacheable
// per graph version.
func (b *Builder) BuildGraph(ctx context.Context, graphID string) (*Runner, error) {
	if b.store == nil {
		return nil, fmt.Errorf("%w: %s (no graph store configured)", domain.ErrUnknownGraph, graphID)
	}
	def, err := b.store.Graph(ctx, graphID)
	if err != nil {
		return nil, err
	}
	graph, err := b.Build(ctx, def)
	if err != nil {
		return nil, err
	}
	return b.Runner(graph), nil
}

// Runner wraps an already built graph with the builder's sink, logger
// and run defaults.
func (b *Builder) Runner(graph *Graph) *Runner {
	return NewRunner(RunnerConfig{
		Graph:    graph,
		Resolver: b.resolver,
		Sink:     b.sink,
		Logger:   b.logger,
		Defaults: b.runDefaults,
	})
}

type instanceConfigKey struct{}

// WithInstanceConfig attaches an instance's engine-level knobs to a
// construction context. The builder does this before every factory call
// so components that care (the tool runner's parallel dispatch, for
// one) can honor per-instance configuration without widening the
// Factory signature.
func WithInstanceConfig(ctx context.Context, cfg domain.InstanceConfig) context.Context {
	return context.WithValue(ctx, instanceConfigKey{}, cfg)
}

// InstanceConfigFromContext returns the instance config attached to a
// construction context, if any.
func InstanceConfigFromContext(ctx context.Context) (domain.InstanceConfig, bool) {
	cfg, ok := ctx.Value(instanceConfigKey{}).(domain.InstanceConfig)
	return cfg, ok
}

// Build constructs an executable graph from a definition. On failure it
// returns a *domain.BuildError carrying every violation found.
func (b *Builder) Build(ctx context.Context, def *domain.GraphDefinition) (*Graph, error) {
	if def == nil {
		return nil, fmt.Errorf("nil graph definition")
	}

	plan, errs := b.analyze(def)

	// Resolve constructor arguments for every instance before any
	// factory runs, accumulating bad bindings across instances.
	args := make(map[string]map[string]any, len(def.Instances))
	for i := range def.Instances {
		inst := &def.Instances[i]
		if _, known := b.registry.Definition(inst.Type); !known {
			continue // already reported by analyze
		}
		resolved, err := b.resolver.ConstructorArgs(inst)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		args[inst.ID] = resolved
	}

	if len(errs) > 0 {
		return nil, &domain.BuildError{GraphID: def.ID, Errs: errs}
	}

	// Construct components children-first. The first factory failure
	// aborts; nothing built so far escapes.
	built := make(map[string]runtime.Component, len(plan.order))
	for _, id := range plan.order {
		inst, _ := def.Instance(id)
		instArgs := args[id]
		if err := b.resolver.AttachChildren(instArgs, inst, built); err != nil {
			return nil, &domain.BuildError{GraphID: def.ID, Errs: []error{err}}
		}
		component, err := b.registry.Create(WithInstanceConfig(ctx, inst.Config), inst.Type, instArgs)
		if err != nil {
			return nil, &domain.BuildError{GraphID: def.ID, Errs: []error{fmt.Errorf("instance %q: %w", id, err)}}
		}
		built[id] = component
	}

	graph := &Graph{
		ID:         def.ID,
		Name:       def.Name,
		Version:    def.Version,
		Definition: def,
		Nodes:      make(map[string]*Node, len(plan.scheduled)),
		StartNodes: plan.startNodes,
	}
	for _, id := range plan.scheduled {
		inst, _ := def.Instance(id)
		graph.Nodes[id] = &Node{
			Instance:  inst,
			Component: built[id],
			Deps:      sortedSet(plan.schedDeps[id]),
		}
	}
	for id, node := range graph.Nodes {
		for _, dep := range node.Deps {
			graph.Nodes[dep].Dependents = append(graph.Nodes[dep].Dependents, id)
		}
	}
	for _, node := range graph.Nodes {
		sort.Strings(node.Dependents)
	}
	for _, id := range plan.order {
		if _, scheduled := graph.Nodes[id]; scheduled {
			graph.Order = append(graph.Order, id)
		}
	}

	b.logger.Debug("graph built",
		slog.String("graph_id", def.ID),
		slog.String("version", def.Version),
		slog.Int("nodes", len(plan.scheduled)),
		slog.Int("embedded", len(plan.embedded)))

	return graph, nil
}

// buildPlan is the outcome of structural analysis: which instances are
// embedded, the dependency sets, and a build order covering every
// instance.
type buildPlan struct {
	embedded   map[string]bool
	schedDeps  map[string]map[string]bool // scheduling deps, scheduled nodes only
	order      []string                   // topological build order, all instances
	scheduled  []string
	startNodes []string
}

//nolint:gocyclo // The analysis enumerates every violation class in one pass.
func (b *Builder) analyze(def *domain.GraphDefinition) (buildPlan, []error) {
	var errs []error
	plan := buildPlan{
		embedded:  make(map[string]bool),
		schedDeps: make(map[string]map[string]bool),
	}

	seen := make(map[string]bool, len(def.Instances))
	for i := range def.Instances {
		inst := &def.Instances[i]
		switch {
		case inst.ID == "":
			errs = append(errs, fmt.Errorf("instance %d has an empty id", i))
		case inst.ID == domain.InputNodeID:
			errs = append(errs, fmt.Errorf("%w: %q", domain.ErrReservedInstanceID, inst.ID))
		case seen[inst.ID]:
			errs = append(errs, fmt.Errorf("%w: %q", domain.ErrDuplicateInstance, inst.ID))
		default:
			seen[inst.ID] = true
		}
		if _, known := b.registry.Definition(inst.Type); !known {
			errs = append(errs, fmt.Errorf("%w: %q (instance %q)", domain.ErrUnknownComponentType, inst.Type, inst.ID))
		}
	}

	// Containment relations mark children as embedded and order their
	// construction before the parent's.
	buildDeps := make(map[string]map[string]bool, len(def.Instances))
	addDep := func(deps map[string]map[string]bool, node, upstream string) {
		if deps[node] == nil {
			deps[node] = make(map[string]bool)
		}
		deps[node][upstream] = true
	}
	for i := range def.Instances {
		inst := &def.Instances[i]
		for _, rel := range inst.SubComponents {
			if !seen[rel.ChildID] {
				errs = append(errs, fmt.Errorf("%w: instance %q sub-component %q names unknown child %q",
					domain.ErrDanglingReference, inst.ID, rel.Name, rel.ChildID))
				continue
			}
			plan.embedded[rel.ChildID] = true
			addDep(buildDeps, inst.ID, rel.ChildID)
		}
	}

	// References in runtime bindings create scheduling edges. Refs into
	// the reserved input id are satisfied by the run's external inputs.
	// Embedded instances publish no outputs and accept no runtime
	// bindings: they resolve inside their parent.
	for i := range def.Instances {
		inst := &def.Instances[i]
		runtimeBindings := inst.BindingsForPhase(domain.PhaseRuntime)
		if plan.embedded[inst.ID] && len(runtimeBindings) > 0 {
			for _, binding := range runtimeBindings {
				errs = append(errs, &domain.BindingError{
					InstanceID: inst.ID,
					Parameter:  binding.Parameter,
					Err:        fmt.Errorf("%w: embedded instances take no runtime bindings", domain.ErrInvalidPhase),
				})
			}
			continue
		}
		for _, binding := range runtimeBindings {
			for _, ref := range expr.CollectRefs(binding.Value) {
				if ref.InstanceID == domain.InputNodeID {
					continue
				}
				if !seen[ref.InstanceID] {
					errs = append(errs, &domain.BindingError{
						InstanceID: inst.ID,
						Parameter:  binding.Parameter,
						Err:        fmt.Errorf("%w: %q", domain.ErrDanglingReference, ref.InstanceID),
					})
					continue
				}
				if plan.embedded[ref.InstanceID] {
					errs = append(errs, &domain.BindingError{
						InstanceID: inst.ID,
						Parameter:  binding.Parameter,
						Err:        fmt.Errorf("%w: %q is embedded and publishes no outputs", domain.ErrDanglingReference, ref.InstanceID),
					})
					continue
				}
				addDep(plan.schedDeps, inst.ID, ref.InstanceID)
				addDep(buildDeps, inst.ID, ref.InstanceID)
			}
		}
	}

	for i, edge := range def.Edges {
		if edge.From == domain.InputNodeID {
			// Satisfied by external inputs, no scheduling edge.
			if !seen[edge.To] {
				errs = append(errs, fmt.Errorf("%w: edge %d to unknown instance %q", domain.ErrDanglingReference, i, edge.To))
			}
			continue
		}
		switch {
		case !seen[edge.From]:
			errs = append(errs, fmt.Errorf("%w: edge %d from unknown instance %q", domain.ErrDanglingReference, i, edge.From))
		case !seen[edge.To]:
			errs = append(errs, fmt.Errorf("%w: edge %d to unknown instance %q", domain.ErrDanglingReference, i, edge.To))
		case plan.embedded[edge.From] || plan.embedded[edge.To]:
			errs = append(errs, fmt.Errorf("%w: edge %d touches an embedded instance", domain.ErrDanglingReference, i))
		default:
			addDep(plan.schedDeps, edge.To, edge.From)
			addDep(buildDeps, edge.To, edge.From)
		}
	}

	order, cycle := topoSort(def, buildDeps)
	plan.order = order
	if len(cycle) > 0 {
		errs = append(errs, fmt.Errorf("%w: %s", domain.ErrCyclicGraph, strings.Join(cycle, ", ")))
	}

	for i := range def.Instances {
		if id := def.Instances[i].ID; id != "" && !plan.embedded[id] {
			plan.scheduled = append(plan.scheduled, id)
		}
	}
	sort.Strings(plan.scheduled)

	plan.startNodes = deriveStartNodes(plan)
	if len(def.StartNodes) > 0 {
		if err := validateStartNodes(def.StartNodes, plan); err != nil {
			errs = append(errs, err)
		} else {
			plan.startNodes = sortedUnique(def.StartNodes)
		}
	}

	for _, id := range def.OutputNodes {
		switch {
		case !seen[id]:
			errs = append(errs, fmt.Errorf("%w: output node %q", domain.ErrDanglingReference, id))
		case plan.embedded[id]:
			errs = append(errs, fmt.Errorf("%w: output node %q is embedded", domain.ErrDanglingReference, id))
		}
	}

	return plan, errs
}

// deriveStartNodes returns the zero-dependency scheduled nodes.
func deriveStartNodes(plan buildPlan) []string {
	var starts []string
	for _, id := range plan.scheduled {
		if len(plan.schedDeps[id]) == 0 {
			starts = append(starts, id)
		}
	}
	return starts
}

// validateStartNodes checks an explicit start set: every entry must be a
// zero-dependency scheduled node, and every zero-dependency node must be
// listed, otherwise parts of the graph could never become ready.
func validateStartNodes(declared []string, plan buildPlan) error {
	derived := make(map[string]bool, len(plan.startNodes))
	for _, id := range plan.startNodes {
		derived[id] = true
	}

	scheduled := make(map[string]bool, len(plan.scheduled))
	for _, id := range plan.scheduled {
		scheduled[id] = true
	}

	declaredSet := make(map[string]bool, len(declared))
	for _, id := range declared {
		declaredSet[id] = true
		if !scheduled[id] {
			return fmt.Errorf("start node %q is not a schedulable instance", id)
		}
		if !derived[id] {
			return fmt.Errorf("start node %q is not a zero-dependency node", id)
		}
	}
	for _, id := range plan.startNodes {
		if !declaredSet[id] {
			return fmt.Errorf("zero-dependency node %q missing from start nodes", id)
		}
	}
	return nil
}

// topoSort runs Kahn's algorithm over every instance, smallest id first
// so the order is deterministic. The second return value lists the nodes
// on or downstream of a cycle, empty when the graph is acyclic.
func topoSort(def *domain.GraphDefinition, deps map[string]map[string]bool) ([]string, []string) {
	indegree := make(map[string]int, len(def.Instances))
	dependents := make(map[string][]string)
	for i := range def.Instances {
		id := def.Instances[i].ID
		if _, dup := indegree[id]; dup {
			continue
		}
		indegree[id] = len(deps[id])
		for dep := range deps[id] {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(indegree))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		released := dependents[id]
		sort.Strings(released)
		for _, next := range released {
			indegree[next]--
			if indegree[next] == 0 {
				ready = insertSorted(ready, next)
			}
		}
	}

	if len(order) == len(indegree) {
		return order, nil
	}
	ordered := make(map[string]bool, len(order))
	for _, id := range order {
		ordered[id] = true
	}
	var cycle []string
	for id := range indegree {
		if !ordered[id] {
			cycle = append(cycle, id)
		}
	}
	sort.Strings(cycle)
	return order, cycle
}

func insertSorted(list []string, value string) []string {
	idx := sort.SearchStrings(list, value)
	list = append(list, "")
	copy(list[idx+1:], list[idx:])
	list[idx] = value
	return list
}

func sortedSet(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sortedUnique(ids []string) []string {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return sortedSet(set)
}

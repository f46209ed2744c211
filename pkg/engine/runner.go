package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Scopeo/draftnrun/internal/governance"
	"github.com/Scopeo/draftnrun/pkg/domain"
	"github.com/Scopeo/draftnrun/pkg/engine/expr"
	enginert "github.com/Scopeo/draftnrun/pkg/engine/runtime"
	"github.com/Scopeo/draftnrun/pkg/telemetry"
)

// RunOptions tunes one run of a graph.
type RunOptions struct {
	// Concurrency bounds the worker pool; values below 1 use NumCPU.
	Concurrency int
	// FailFast cancels the whole run on the first node failure instead of
	// letting independent branches finish.
	FailFast bool
	// NodeTimeout is the per-node deadline applied to nodes whose instance
	// config declares none; zero disables the fallback.
	NodeTimeout time.Duration
	// OutputNodes overrides which nodes' outputs form the run result.
	// Empty keeps the definition's output set, falling back to sink nodes.
	OutputNodes []string
}

// RunRequest carries one run's external inputs and options. Inputs are
// published under the reserved input node id before scheduling, so any
// node may reference them.
type RunRequest struct {
	Inputs  map[string]any
	Options RunOptions
}

// RunResult reports one finished run: terminal states per node, the
// outputs of the designated output nodes, and the per-node trace.
type RunResult struct {
	RunID    string
	GraphID  string
	Started  time.Time
	Finished time.Time
	States   map[string]domain.NodeState
	Outputs  map[string]map[string]any
	Trace    []domain.TraceEvent
}

// Runner executes a built graph. A runner is stateless across runs and
// safe for concurrent Run calls: all per-run state lives in the run it
// creates, so the API layer may cache a runner per graph version.
type Runner struct {
	graph    *Graph
	resolver *Resolver
	sink     telemetry.TraceSink
	logger   *slog.Logger
	defaults RunOptions
}

// RunnerConfig holds the collaborators a runner needs beyond the graph.
type RunnerConfig struct {
	Graph    *Graph
	Resolver *Resolver
	Sink     telemetry.TraceSink
	Logger   *slog.Logger
	Defaults RunOptions
}

// NewRunner creates a runner over a built graph.
func NewRunner(cfg RunnerConfig) *Runner {
	sink := cfg.Sink
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		graph:    cfg.Graph,
		resolver: cfg.Resolver,
		sink:     sink,
		logger:   logger,
		defaults: cfg.Defaults,
	}
}

// Graph returns the built graph this runner executes.
func (r *Runner) Graph() *Graph {
	return r.graph
}

// Run executes the graph once. Nodes whose dependencies are disjoint run
// concurrently on a bounded worker pool; outputs become visible to a
// dependent only after the producing node completes.
//
// Run always returns a result. When one or more nodes fail the error is a
// *domain.RunError enumerating every failure, and the result still carries
// the terminal states, the trace, and the outputs of the branches that
// completed.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	opts := r.mergeOptions(req.Options)

	runID := uuid.New().String()
	started := time.Now()

	st := newRunState(r, runID, req.Inputs)

	r.logger.Debug("run started",
		slog.String("run_id", runID),
		slog.String("graph_id", r.graph.ID),
		slog.Int("nodes", len(r.graph.Nodes)),
		slog.Int("concurrency", opts.Concurrency))

	st.schedule(ctx, opts)

	finished := time.Now()
	result := &RunResult{
		RunID:    runID,
		GraphID:  r.graph.ID,
		Started:  started,
		Finished: finished,
		States:   st.finalStates(),
		Outputs:  st.collectOutputs(r.outputNodes(opts)),
		Trace:    st.traceEvents(),
	}

	runErr := st.runError()
	telemetry.RecordRunMetrics(ctx, telemetry.RunMetrics{
		GraphID:     r.graph.ID,
		Failed:      runErr != nil,
		Duration:    finished.Sub(started),
		NodeCount:   len(r.graph.Nodes),
		FailedNodes: len(st.failures),
	})

	if runErr != nil {
		r.logger.Warn("run finished with failures",
			slog.String("run_id", runID),
			slog.String("graph_id", r.graph.ID),
			slog.Int("failed_nodes", len(runErr.Failures)))
		return result, runErr
	}

	r.logger.Debug("run completed",
		slog.String("run_id", runID),
		slog.String("graph_id", r.graph.ID),
		slog.Duration("duration", finished.Sub(started)))
	return result, nil
}

func (r *Runner) mergeOptions(opts RunOptions) RunOptions {
	if opts.Concurrency <= 0 {
		opts.Concurrency = r.defaults.Concurrency
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.NumCPU()
	}
	if opts.NodeTimeout <= 0 {
		opts.NodeTimeout = r.defaults.NodeTimeout
	}
	if !opts.FailFast {
		opts.FailFast = r.defaults.FailFast
	}
	if len(opts.OutputNodes) == 0 {
		opts.OutputNodes = r.defaults.OutputNodes
	}
	return opts
}

// outputNodes resolves which nodes contribute to the run result: the
// request override, then the definition's output set, then the graph's
// sink nodes.
func (r *Runner) outputNodes(opts RunOptions) []string {
	if len(opts.OutputNodes) > 0 {
		return opts.OutputNodes
	}
	if len(r.graph.Definition.OutputNodes) > 0 {
		return r.graph.Definition.OutputNodes
	}
	var sinks []string
	for _, id := range r.graph.Order {
		if len(r.graph.Nodes[id].Dependents) == 0 {
			sinks = append(sinks, id)
		}
	}
	return sinks
}

// runState owns the mutable state of one execution: node states, the
// append-only output map, remaining dependency counters, failures and the
// trace. Everything is guarded by one mutex; per-node output maps are
// immutable once published, so snapshots can share them.
type runState struct {
	runner *Runner
	runID  string

	mu       sync.Mutex
	states   map[string]domain.NodeState
	outputs  expr.Outputs
	waiting  map[string]int
	failures []*domain.NodeError
	trace    []domain.TraceEvent

	wg    sync.WaitGroup
	ready chan *Node
}

func newRunState(r *Runner, runID string, inputs map[string]any) *runState {
	st := &runState{
		runner:  r,
		runID:   runID,
		states:  make(map[string]domain.NodeState, len(r.graph.Nodes)),
		outputs: make(expr.Outputs, len(r.graph.Nodes)+1),
		waiting: make(map[string]int, len(r.graph.Nodes)),
		ready:   make(chan *Node, len(r.graph.Nodes)),
	}

	if inputs == nil {
		inputs = map[string]any{}
	}
	st.outputs[domain.InputNodeID] = inputs

	for id, node := range r.graph.Nodes {
		st.states[id] = domain.NodePending
		st.waiting[id] = len(node.Deps)
	}
	return st
}

// schedule drives the run to completion: seeds the start nodes, fans the
// ready queue out to workers, and waits until every node is terminal.
func (st *runState) schedule(ctx context.Context, opts RunOptions) {
	if len(st.runner.graph.Nodes) == 0 {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	st.wg.Add(len(st.runner.graph.Nodes))
	for _, id := range st.runner.graph.StartNodes {
		st.enqueue(st.runner.graph.Nodes[id])
	}

	workers := opts.Concurrency
	if n := len(st.runner.graph.Nodes); workers > n {
		workers = n
	}
	for i := 0; i < workers; i++ {
		go st.worker(runCtx, cancel, opts)
	}

	st.wg.Wait()
	close(st.ready)
}

func (st *runState) worker(ctx context.Context, cancel context.CancelFunc, opts RunOptions) {
	for node := range st.ready {
		if err := ctx.Err(); err != nil {
			// The run was canceled; short-circuit without starting.
			st.failNode(ctx, node, fmt.Errorf("canceled before start: %w", err))
			st.wg.Done()
			continue
		}

		st.executeNode(ctx, cancel, node, opts)
		st.wg.Done()
	}
}

// enqueue moves a pending node to the ready queue.
func (st *runState) enqueue(node *Node) {
	st.mu.Lock()
	st.states[node.Instance.ID] = domain.NodeReady
	st.mu.Unlock()
	st.ready <- node
}

// executeNode resolves a node's runtime inputs, invokes the component
// with per-node deadline and retry policy, and publishes the result.
func (st *runState) executeNode(ctx context.Context, cancel context.CancelFunc, node *Node, opts RunOptions) {
	id := node.Instance.ID
	graph := st.runner.graph

	inputs, err := st.runner.resolver.RuntimeInputs(node.Instance, st.snapshotOutputs())
	if err != nil {
		st.failNode(ctx, node, err)
		if opts.FailFast {
			cancel()
		}
		return
	}

	started := time.Now()
	st.mu.Lock()
	st.states[id] = domain.NodeRunning
	st.mu.Unlock()

	st.emit(ctx, domain.TraceEvent{
		RunID:   st.runID,
		GraphID: graph.ID,
		NodeID:  id,
		Phase:   domain.TraceStart,
		Time:    started,
		Inputs:  inputs,
	})

	nodeCtx := enginert.WithInfo(ctx, enginert.Info{
		RunID:   st.runID,
		GraphID: graph.ID,
		NodeID:  id,
	})

	outputs, attempts, err := st.invoke(nodeCtx, node, inputs, opts)
	duration := time.Since(started)
	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}

	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
		failure := fmt.Errorf("%w: %w", domain.ErrNodeExecution, err)
		st.failNode(ctx, node, failure)
		telemetry.RecordNodeMetrics(ctx, telemetry.NodeMetrics{
			GraphID:  graph.ID,
			NodeID:   id,
			NodeType: node.Instance.Type,
			State:    domain.NodeFailed,
			Duration: duration,
			Retries:  retries,
			TimedOut: timedOut,
		})
		if opts.FailFast {
			cancel()
		}
		return
	}

	if outputs == nil {
		outputs = map[string]any{}
	}

	st.mu.Lock()
	st.outputs[id] = outputs
	st.states[id] = domain.NodeCompleted
	st.mu.Unlock()

	st.emit(ctx, domain.TraceEvent{
		RunID:   st.runID,
		GraphID: graph.ID,
		NodeID:  id,
		Phase:   domain.TraceEnd,
		Time:    time.Now(),
		Outputs: outputs,
	})
	telemetry.RecordNodeMetrics(ctx, telemetry.NodeMetrics{
		GraphID:  graph.ID,
		NodeID:   id,
		NodeType: node.Instance.Type,
		State:    domain.NodeCompleted,
		Duration: duration,
		Retries:  retries,
	})

	// Release dependents whose last dependency just completed.
	st.mu.Lock()
	var unlocked []*Node
	for _, dep := range node.Dependents {
		st.waiting[dep]--
		if st.waiting[dep] == 0 && st.states[dep] == domain.NodePending {
			unlocked = append(unlocked, graph.Nodes[dep])
		}
	}
	st.mu.Unlock()
	for _, next := range unlocked {
		st.enqueue(next)
	}
}

// invoke runs the component once or under the instance's retry policy,
// applying the per-node deadline to each attempt. It reports the number
// of attempts made.
func (st *runState) invoke(ctx context.Context, node *Node, inputs map[string]any, opts RunOptions) (map[string]any, int, error) {
	timeout := node.Instance.Config.Timeout
	if timeout <= 0 {
		timeout = opts.NodeTimeout
	}

	attempt := func(ctx context.Context) (map[string]any, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return node.Component.Run(ctx, inputs)
	}

	retry := node.Instance.Config.Retry
	if retry == nil || retry.MaxAttempts <= 1 {
		outputs, err := attempt(ctx)
		return outputs, 1, err
	}

	policy := governance.NewRetryPolicy(governance.RetryConfig{
		MaxAttempts: retry.MaxAttempts,
		BaseBackoff: retry.BaseBackoff,
		MaxBackoff:  retry.MaxBackoff,
		Jitter:      true,
	})

	var outputs map[string]any
	attempts, err := policy.Execute(ctx, func(ctx context.Context) error {
		var attemptErr error
		outputs, attemptErr = attempt(ctx)
		return attemptErr
	})
	return outputs, attempts, err
}

// failNode marks a node failed, records the failure, emits the end trace
// event, and propagates the failure to every transitive dependent that
// can no longer run.
func (st *runState) failNode(ctx context.Context, node *Node, err error) {
	id := node.Instance.ID

	st.mu.Lock()
	st.states[id] = domain.NodeFailed
	st.failures = append(st.failures, &domain.NodeError{NodeID: id, Err: err})
	st.mu.Unlock()

	st.runner.logger.Warn("node failed",
		slog.String("run_id", st.runID),
		slog.String("graph_id", st.runner.graph.ID),
		slog.String("node_id", id),
		slog.Any("error", err))

	st.emit(ctx, domain.TraceEvent{
		RunID:   st.runID,
		GraphID: st.runner.graph.ID,
		NodeID:  id,
		Phase:   domain.TraceEnd,
		Time:    time.Now(),
		Error:   err.Error(),
	})

	st.skipDependents(ctx, node)
}

// skipDependents marks every transitive dependent of a failed node as
// failed with ErrMissingUpstreamOutput. Only pending nodes are touched:
// a node already in the ready queue has all dependencies completed and
// runs normally.
func (st *runState) skipDependents(ctx context.Context, node *Node) {
	graph := st.runner.graph
	for _, depID := range node.Dependents {
		dependent := graph.Nodes[depID]

		st.mu.Lock()
		if st.states[depID] != domain.NodePending {
			st.mu.Unlock()
			continue
		}
		err := fmt.Errorf("%w: upstream %q failed", domain.ErrMissingUpstreamOutput, node.Instance.ID)
		st.states[depID] = domain.NodeFailed
		st.failures = append(st.failures, &domain.NodeError{NodeID: depID, Err: err})
		st.mu.Unlock()

		st.emit(ctx, domain.TraceEvent{
			RunID:   st.runID,
			GraphID: graph.ID,
			NodeID:  depID,
			Phase:   domain.TraceEnd,
			Time:    time.Now(),
			Error:   err.Error(),
		})
		st.wg.Done()
		st.skipDependents(ctx, dependent)
	}
}

// emit records a trace event and forwards it to the sink. A panicking
// sink must not take the run down with it.
func (st *runState) emit(ctx context.Context, event domain.TraceEvent) {
	st.mu.Lock()
	st.trace = append(st.trace, event)
	st.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			st.runner.logger.Warn("trace sink panicked",
				slog.String("node_id", event.NodeID),
				slog.Any("panic", r))
		}
	}()
	st.runner.sink.Emit(ctx, event)
}

// snapshotOutputs returns a consistent view of the published outputs.
// The per-node maps are shared: they are immutable once published.
func (st *runState) snapshotOutputs() expr.Outputs {
	st.mu.Lock()
	defer st.mu.Unlock()
	snap := make(expr.Outputs, len(st.outputs))
	for id, ports := range st.outputs {
		snap[id] = ports
	}
	return snap
}

func (st *runState) finalStates() map[string]domain.NodeState {
	st.mu.Lock()
	defer st.mu.Unlock()
	states := make(map[string]domain.NodeState, len(st.states))
	for id, state := range st.states {
		states[id] = state
	}
	return states
}

// collectOutputs gathers the outputs of the designated output nodes that
// completed. Failed nodes contribute nothing; their absence is reported
// through the run error.
func (st *runState) collectOutputs(ids []string) map[string]map[string]any {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[string]map[string]any, len(ids))
	for _, id := range ids {
		if st.states[id] != domain.NodeCompleted {
			continue
		}
		if ports, ok := st.outputs[id]; ok {
			out[id] = ports
		}
	}
	return out
}

func (st *runState) traceEvents() []domain.TraceEvent {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]domain.TraceEvent(nil), st.trace...)
}

func (st *runState) runError() *domain.RunError {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.failures) == 0 {
		return nil
	}
	return &domain.RunError{
		RunID:    st.runID,
		GraphID:  st.runner.graph.ID,
		Failures: append([]*domain.NodeError(nil), st.failures...),
	}
}

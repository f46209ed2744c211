// Package runtime defines the contracts shared by the graph engine and
// concrete components, keeping component logic decoupled from scheduling
// mechanics.
package runtime

import (
	"context"
	"fmt"
	"sync"
)

// Component is the uniform execution contract every registered type
// implements. Run receives the node's resolved runtime inputs and returns
// the values to publish per output port. Implementations must be safe for
// the engine to call from a worker goroutine; a component instance is used
// by at most one run at a time unless a collaborator caches the graph.
type Component interface {
	Run(ctx context.Context, inputs map[string]any) (map[string]any, error)
}

// Factory produces a component instance from its resolved constructor
// arguments. The construct half of the construct/run contract.
type Factory func(ctx context.Context, args map[string]any) (Component, error)

// ComponentFunc adapts a plain function to the Component interface.
type ComponentFunc func(ctx context.Context, inputs map[string]any) (map[string]any, error)

// Run implements Component.
func (f ComponentFunc) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	return f(ctx, inputs)
}

// Info carries run-scoped identity for logging and tracing inside
// component implementations.
type Info struct {
	RunID   string
	GraphID string
	NodeID  string
}

type infoKey struct{}

// WithInfo attaches run-scoped info to the context.
func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

// InfoFromContext returns the run-scoped info, if any.
func InfoFromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(infoKey{}).(Info)
	return info, ok
}

// ToolResult pairs one dispatched sub-tool with its outcome.
type ToolResult struct {
	Name    string
	Outputs map[string]any
	Err     error
}

// DispatchTools invokes each named sub-tool with the same inputs, either
// sequentially in order or concurrently when parallel is set. Results come
// back in the callers' order regardless of completion order; sequential
// dispatch stops at the first error, concurrent dispatch always reports
// every tool.
func DispatchTools(ctx context.Context, tools []Component, names []string, inputs map[string]any, parallel bool) []ToolResult {
	results := make([]ToolResult, len(tools))
	for i := range tools {
		results[i].Name = name(names, i)
	}

	if !parallel {
		for i, tool := range tools {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return results[:i+1]
			}
			outputs, err := tool.Run(ctx, inputs)
			results[i].Outputs = outputs
			results[i].Err = err
			if err != nil {
				return results[:i+1]
			}
		}
		return results
	}

	var wg sync.WaitGroup
	for i, tool := range tools {
		wg.Add(1)
		go func(slot int, c Component) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[slot].Err = fmt.Errorf("tool panicked: %v", r)
				}
			}()
			outputs, err := c.Run(ctx, inputs)
			results[slot].Outputs = outputs
			results[slot].Err = err
		}(i, tool)
	}
	wg.Wait()
	return results
}

func name(names []string, i int) string {
	if i < len(names) {
		return names[i]
	}
	return fmt.Sprintf("tool-%d", i)
}

package domain

import "time"

// ParameterBinding assigns a value to one declared parameter of an
// instance. The bound value is either a Literal or a richer
// FieldExpression; which phase resolves it is chosen by the binding,
// within the phases the parameter definition allows.
//
// A constructor-phase binding is resolved before any node runs, so its
// expression must not contain a Ref.
type ParameterBinding struct {
	Parameter string
	Phase     ResolutionPhase
	Value     FieldExpression
}

// SubComponentRelation attaches a child instance to a parent as a named,
// ordered sub-input. Relations sharing a name form a positional list in
// Order; order is preserved because it can carry meaning (tool priority,
// positional arguments).
type SubComponentRelation struct {
	Name    string
	ChildID string
	Order   int
}

// RetryConfig defines per-node retry behavior for transient failures.
type RetryConfig struct {
	MaxAttempts int // Total attempts including the first; 0 or 1 disables retries
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// InstanceConfig carries engine-level execution knobs for one node.
type InstanceConfig struct {
	Timeout       time.Duration // Per-node run deadline; 0 falls back to the run option
	Retry         *RetryConfig
	ParallelTools bool // Agent-style nodes: dispatch sub-tool calls concurrently
}

// ComponentInstance is a configured, not-yet-built node of one graph.
type ComponentInstance struct {
	ID            string
	Type          string
	Name          string
	Bindings      []ParameterBinding
	SubComponents []SubComponentRelation
	Config        InstanceConfig
}

// BindingsForPhase returns the instance's bindings resolved in the given
// phase, preserving configuration order.
func (i *ComponentInstance) BindingsForPhase(p ResolutionPhase) []ParameterBinding {
	var out []ParameterBinding
	for _, b := range i.Bindings {
		if b.Phase == p {
			out = append(out, b)
		}
	}
	return out
}

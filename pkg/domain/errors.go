package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors of the engine. Wrap with fmt.Errorf("%w: ...") and match
// with errors.Is.
var (
	ErrUnknownComponentType        = errors.New("unknown component type")
	ErrDuplicateComponentType      = errors.New("component type already registered")
	ErrInvalidConstructorReference = errors.New("constructor binding references a runtime output")
	ErrUnknownParameter            = errors.New("unknown parameter")
	ErrInvalidPhase                = errors.New("resolution phase not allowed for parameter")
	ErrTypeMismatch                = errors.New("parameter type mismatch")
	ErrCyclicGraph                 = errors.New("graph contains a cycle")
	ErrDanglingReference           = errors.New("reference to unknown instance")
	ErrMissingUpstreamOutput       = errors.New("missing upstream output")
	ErrKeyNotFound                 = errors.New("key not found in upstream output")
	ErrNodeExecution               = errors.New("node execution failed")
	ErrUnknownGraph                = errors.New("graph not found")
	ErrDuplicateInstance           = errors.New("duplicate instance id")
	ErrReservedInstanceID          = errors.New("instance id is reserved")
)

// BindingError reports a validation or resolution failure for one
// parameter binding. Err wraps the sentinel describing the failure class.
type BindingError struct {
	InstanceID string
	Parameter  string
	Err        error
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("instance %q parameter %q: %v", e.InstanceID, e.Parameter, e.Err)
}

func (e *BindingError) Unwrap() error {
	return e.Err
}

// BuildError aggregates every violation found while building a graph. No
// partial graph accompanies it: building is all or nothing.
type BuildError struct {
	GraphID string
	Errs    []error
}

func (e *BuildError) Error() string {
	if len(e.Errs) == 1 {
		return fmt.Sprintf("build graph %q: %v", e.GraphID, e.Errs[0])
	}
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("build graph %q: %d errors: %s", e.GraphID, len(e.Errs), strings.Join(msgs, "; "))
}

func (e *BuildError) Unwrap() []error {
	return e.Errs
}

// NodeError scopes a run-time failure to one node.
type NodeError struct {
	NodeID string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q: %v", e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// RunError enumerates every node that failed during one run, not just the
// first. Nodes whose upstream never produced an output appear with
// ErrMissingUpstreamOutput.
type RunError struct {
	RunID    string
	GraphID  string
	Failures []*NodeError
}

func (e *RunError) Error() string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.NodeID
	}
	return fmt.Sprintf("run %s of graph %q: %d node(s) failed: %s",
		e.RunID, e.GraphID, len(e.Failures), strings.Join(ids, ", "))
}

func (e *RunError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Failure returns the recorded failure for a node id.
func (e *RunError) Failure(nodeID string) (*NodeError, bool) {
	for _, f := range e.Failures {
		if f.NodeID == nodeID {
			return f, true
		}
	}
	return nil, false
}

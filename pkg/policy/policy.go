package policy

import (
	"context"
	"errors"
)

// Action defines the outcome of a policy evaluation.
type Action string

const (
	// ActionAllow lets the evaluated payload pass unchanged.
	ActionAllow Action = "allow"
	// ActionRedact lets the payload pass after masking; the redacted form
	// travels in the decision outputs.
	ActionRedact Action = "redact"
	// ActionDeny stops the payload.
	ActionDeny Action = "deny"
)

// Decision captures the result of one rule evaluation.
type Decision struct {
	Action   Action
	Reason   string
	Metadata map[string]string
	Outputs  map[string]any
}

// Input carries one evaluation request: the payload under judgment and
// the run context it arrived in (graph, node and run ids).
type Input struct {
	// Entrypoint overrides the evaluator's default decision path.
	Entrypoint string
	// Payload is the JSON-shaped value the rules judge.
	Payload map[string]any
	// Context carries run identity and any extra attributes rules may use.
	Context map[string]any
	// DisableCache forces a fresh evaluation.
	DisableCache bool
}

// Evaluator produces a policy decision for an input.
type Evaluator interface {
	Evaluate(ctx context.Context, input Input) (Decision, error)
}

// Chain composes evaluators, short-circuiting on the first decision that
// is not a plain allow. An empty chain allows everything.
type Chain struct {
	evaluators []Evaluator
}

// NewChain constructs an evaluator chain.
func NewChain(evaluators ...Evaluator) Chain {
	return Chain{evaluators: append([]Evaluator(nil), evaluators...)}
}

// Evaluate executes the chain until a terminal decision is produced.
func (c Chain) Evaluate(ctx context.Context, input Input) (Decision, error) {
	for _, evaluator := range c.evaluators {
		decision, err := evaluator.Evaluate(ctx, input)
		if err != nil {
			return Decision{}, err
		}
		if decision.Metadata == nil {
			decision.Metadata = map[string]string{}
		}
		if decision.Outputs == nil {
			decision.Outputs = map[string]any{}
		}
		switch decision.Action {
		case ActionAllow:
			// continue evaluating subsequent rules
		case ActionRedact, ActionDeny:
			return decision, nil
		default:
			return Decision{}, errors.New("unknown policy action")
		}
	}

	return Decision{Action: ActionAllow, Metadata: map[string]string{}, Outputs: map[string]any{}}, nil
}

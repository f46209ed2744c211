package domain

import "time"

// TracePhase distinguishes the two events a node emits per run.
type TracePhase string

const (
	TraceStart TracePhase = "start"
	TraceEnd   TracePhase = "end"
)

// TraceEvent is one step in a run's execution trace. A start event carries
// the node's resolved runtime inputs; an end event carries the outputs on
// success or the error message on failure. Delivery to the tracing
// collaborator is fire and forget.
type TraceEvent struct {
	RunID   string         `json:"runId"`
	GraphID string         `json:"graphId"`
	NodeID  string         `json:"nodeId"`
	Phase   TracePhase     `json:"phase"`
	Time    time.Time      `json:"time"`
	Inputs  map[string]any `json:"inputs,omitempty"`
	Outputs map[string]any `json:"outputs,omitempty"`
	Error   string         `json:"error,omitempty"`
}

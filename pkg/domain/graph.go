package domain

// InputNodeID is the reserved node id under which a run's external inputs
// are published before scheduling starts. Any node may reference it; graph
// definitions must not declare an instance with this id.
const InputNodeID = "input"

// LegacyEdge is the older, lower-expressiveness binding form: an explicit
// port-to-port wire between two nodes. Edges are normalized into Ref
// bindings at the persistence-read boundary and lose against a unified
// binding for the same parameter.
type LegacyEdge struct {
	From     string
	FromPort string
	To       string
	ToPort   string
}

// GraphDefinition is the persisted description of one executable graph:
// its instances, their bindings and sub-component relations, the
// designated start nodes and the legacy edge list.
type GraphDefinition struct {
	ID          string
	Name        string
	Version     string
	Instances   []ComponentInstance
	StartNodes  []string
	Edges       []LegacyEdge
	OutputNodes []string // Nodes whose outputs form the run result; empty means sink nodes
}

// Instance returns the instance with the given id.
func (g *GraphDefinition) Instance(id string) (*ComponentInstance, bool) {
	for idx := range g.Instances {
		if g.Instances[idx].ID == id {
			return &g.Instances[idx], true
		}
	}
	return nil, false
}

// NodeState is the per-run lifecycle state of one node.
type NodeState string

const (
	NodePending   NodeState = "pending"
	NodeReady     NodeState = "ready"
	NodeRunning   NodeState = "running"
	NodeCompleted NodeState = "completed"
	NodeFailed    NodeState = "failed"
)

// Terminal reports whether the state is final for a run.
func (s NodeState) Terminal() bool {
	return s == NodeCompleted || s == NodeFailed
}

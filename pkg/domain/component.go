package domain

// ParamType is the declared type of a component parameter.
type ParamType string

// Declared parameter types. JSON covers any JSON-shaped value (object,
// array or scalar); List requires a JSON array; Component marks a
// parameter whose value is a built sub-component instance.
const (
	ParamString    ParamType = "string"
	ParamInt       ParamType = "int"
	ParamFloat     ParamType = "float"
	ParamBool      ParamType = "bool"
	ParamJSON      ParamType = "json"
	ParamList      ParamType = "list"
	ParamComponent ParamType = "component"
)

// ResolutionPhase states when a parameter binding is resolved: once at
// construction time or freshly on every run.
type ResolutionPhase string

const (
	PhaseConstructor ResolutionPhase = "constructor"
	PhaseRuntime     ResolutionPhase = "runtime"
)

// ParameterDefinition describes one declared parameter of a component type.
type ParameterDefinition struct {
	Name     string
	Type     ParamType
	Nullable bool
	Default  any               // Injected for absent constructor bindings; nil means no default
	Phases   []ResolutionPhase // Legal phases; empty allows both
}

// AllowsPhase reports whether a binding may resolve this parameter in the
// given phase.
func (d ParameterDefinition) AllowsPhase(p ResolutionPhase) bool {
	if len(d.Phases) == 0 {
		return true
	}
	for _, allowed := range d.Phases {
		if allowed == p {
			return true
		}
	}
	return false
}

// PortDirection distinguishes input from output ports.
type PortDirection string

const (
	PortIn  PortDirection = "in"
	PortOut PortDirection = "out"
)

// PortDefinition describes a named input or output port of a component type.
type PortDefinition struct {
	Name      string
	Direction PortDirection
	Canonical bool // The port downstream references default to
}

// ComponentDefinition is the immutable descriptor of a component type.
// Definitions are registered at startup and never mutated afterwards, so
// they are safe for concurrent reads without locking.
type ComponentDefinition struct {
	Type        string
	Description string
	Parameters  []ParameterDefinition
	Ports       []PortDefinition
}

// Parameter returns the declared parameter with the given name.
func (d ComponentDefinition) Parameter(name string) (ParameterDefinition, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterDefinition{}, false
}

// CanonicalOutput returns the name of the canonical output port, falling
// back to the first output port, then to "output" when no ports are
// declared.
func (d ComponentDefinition) CanonicalOutput() string {
	first := ""
	for _, p := range d.Ports {
		if p.Direction != PortOut {
			continue
		}
		if p.Canonical {
			return p.Name
		}
		if first == "" {
			first = p.Name
		}
	}
	if first != "" {
		return first
	}
	return DefaultOutputPort
}

// DefaultOutputPort is the port name used when a component type declares no
// output ports.
const DefaultOutputPort = "output"

package domain

// FieldExpression is the small typed language used to compute a parameter
// value from literals and other nodes' outputs. It is a closed tagged
// variant: Literal, Ref, Concat and JSONBuild are the only forms. Values
// are JSON-shaped (map[string]any, []any, string, bool, nil and numeric
// scalars); evaluation lives in pkg/engine/expr.
type FieldExpression interface {
	isFieldExpression()
}

// Literal yields its value verbatim.
type Literal struct {
	Value any
}

// Ref yields the output a node published on a port. Key optionally indexes
// into a dict-shaped output; an empty Key returns the port value whole.
type Ref struct {
	InstanceID string
	Port       string
	Key        string
}

// Concat evaluates each part, coerces it to a string and joins the parts
// in order. Non-scalar parts are serialized to JSON text; this is a
// documented lossy fallback, use JSONBuild to preserve structure.
type Concat struct {
	Parts []FieldExpression
}

// JSONBuild deep-copies Template and replaces every scalar leaf whose
// value equals a key in Refs with the evaluated, type-preserved value of
// that key's expression. Leaves matching no key stay literal.
type JSONBuild struct {
	Template any
	Refs     map[string]FieldExpression
}

func (Literal) isFieldExpression()   {}
func (Ref) isFieldExpression()       {}
func (Concat) isFieldExpression()    {}
func (JSONBuild) isFieldExpression() {}

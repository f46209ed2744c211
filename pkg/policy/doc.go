// Package policy evaluates rules over values flowing through a graph.
//
// Two rule engines live here: an embedded OPA engine that compiles Rego
// modules once and answers allow/redact/deny decisions per evaluation,
// and a pattern Scanner that finds and masks sensitive content in text.
// Both are decoupled from the graph engine so rules can be tested and
// hot-swapped independently; the gate and redact components adapt them
// to the component contract.
package policy

// Package engine turns declarative graph definitions into running
// component graphs.
//
// Architecture:
//
// registry.go   - Component type registry (definitions, factories, processors)
// processors.go - Constructor-argument processor chain (env expansion, defaults)
// resolver.go   - Two-phase parameter resolution (constructor vs runtime)
// typecheck.go  - Declared-type validation for resolved parameter values
// builder.go    - Definition analysis and all-or-nothing graph construction
// runner.go     - Dependency-ordered concurrent execution of a built graph
//
// The expr subpackage evaluates the field-expression forms bindings are
// written in; the runtime subpackage holds the contracts concrete
// components implement.
package engine

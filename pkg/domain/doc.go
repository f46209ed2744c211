// Package domain defines the core types of the graph execution engine:
// component definitions, configured instances with their parameter bindings,
// field expressions, graph definitions, trace events and the error taxonomy.
//
// This package contains pure domain data with ZERO external dependencies
// outside the Go standard library. Other packages (engine, config, storage,
// telemetry) depend on these types; the dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
//
// Definitions are immutable once registered and safe for concurrent reads.
// Instances and graph definitions are plain data read from the persistence
// collaborator; behavior lives in pkg/engine.
package domain

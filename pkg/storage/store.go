// Package storage provides persistence for graph definitions: a store
// interface, file and memory implementations, and a catalog that serves
// atomic snapshots of the loaded graph set across reloads.
package storage

import (
	"context"

	"github.com/Scopeo/draftnrun/pkg/domain"
)

// GraphStore exposes read operations over persisted graph definitions.
// Implementations return domain.ErrUnknownGraph (possibly wrapped) when
// the requested id does not exist.
type GraphStore interface {
	// Graph returns the definition with the given id.
	Graph(ctx context.Context, id string) (*domain.GraphDefinition, error)

	// GraphIDs lists the ids of all stored definitions, sorted.
	GraphIDs(ctx context.Context) ([]string, error)
}

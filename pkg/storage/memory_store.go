package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Scopeo/draftnrun/pkg/domain"
)

// MemoryStore is an in-memory implementation of GraphStore. It backs
// tests and programmatic graph registration.
type MemoryStore struct {
	mu     sync.RWMutex
	graphs map[string]*domain.GraphDefinition
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		graphs: make(map[string]*domain.GraphDefinition),
	}
}

// Graph retrieves a graph definition from memory. The returned definition
// is shared; callers must not modify it.
func (s *MemoryStore) Graph(_ context.Context, id string) (*domain.GraphDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.graphs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownGraph, id)
	}
	return def, nil
}

// GraphIDs lists the stored graph ids, sorted.
func (s *MemoryStore) GraphIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.graphs))
	for id := range s.graphs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Put stores a graph definition, replacing any previous definition with
// the same id.
func (s *MemoryStore) Put(def *domain.GraphDefinition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("graph definition requires an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs[def.ID] = def
	return nil
}

// Delete removes a graph definition. Deleting an absent id is a no-op.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.graphs, id)
}

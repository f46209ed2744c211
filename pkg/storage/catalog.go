package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Scopeo/draftnrun/pkg/domain"
)

// Catalog maintains the active set of graph definitions loaded from a
// backing store. Reload swaps the whole set atomically: readers either
// see the previous snapshot or the new one, never a mix, and a failed
// reload keeps the last-known-good snapshot in place.
//
// Catalog itself implements GraphStore, so builders can be pointed at a
// catalog or directly at a store interchangeably.
type Catalog struct {
	mu         sync.RWMutex
	store      GraphStore
	graphs     map[string]*domain.GraphDefinition
	version    string
	generation int64
	logger     *slog.Logger
}

// NewCatalog creates a catalog over the backing store. The catalog is
// empty until the first Reload.
func NewCatalog(store GraphStore, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		store:  store,
		graphs: make(map[string]*domain.GraphDefinition),
		logger: logger,
	}
}

// Reload loads every definition from the backing store and swaps the
// snapshot. Any load error aborts the swap and leaves the previous
// snapshot serving.
func (c *Catalog) Reload(ctx context.Context) error {
	ids, err := c.store.GraphIDs(ctx)
	if err != nil {
		c.logger.Error("graph catalog reload failed", slog.Any("error", err))
		return fmt.Errorf("list graphs: %w", err)
	}

	next := make(map[string]*domain.GraphDefinition, len(ids))
	for _, id := range ids {
		def, err := c.store.Graph(ctx, id)
		if err != nil {
			c.logger.Error("graph catalog reload failed",
				slog.String("graph_id", id),
				slog.Any("error", err))
			return fmt.Errorf("load graph %s: %w", id, err)
		}
		next[id] = def
	}

	version := uuid.New().String()

	c.mu.Lock()
	c.graphs = next
	c.version = version
	c.generation++
	generation := c.generation
	c.mu.Unlock()

	c.logger.Info("graph catalog updated",
		slog.Int64("generation", generation),
		slog.String("version", version),
		slog.Int("graphs", len(next)))

	return nil
}

// Graph returns the definition with the given id from the current snapshot.
func (c *Catalog) Graph(_ context.Context, id string) (*domain.GraphDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def, ok := c.graphs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownGraph, id)
	}
	return def, nil
}

// GraphIDs lists the ids in the current snapshot, sorted.
func (c *Catalog) GraphIDs(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.graphs))
	for id := range c.graphs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Len returns the number of graphs in the current snapshot.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.graphs)
}

// Version returns the opaque tag of the current snapshot, empty before
// the first successful reload.
func (c *Catalog) Version() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Generation returns how many successful reloads have been applied.
func (c *Catalog) Generation() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Scopeo/draftnrun/pkg/config"
	"github.com/Scopeo/draftnrun/pkg/domain"
)

// FileStore reads graph definitions from a directory of YAML documents,
// one graph per file. Reads are strict: a malformed document fails the
// whole operation so a catalog reload never swaps in a half-parsed set.
type FileStore struct {
	dir string
}

// NewFileStore creates a store over the given directory.
func NewFileStore(dir string) (*FileStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("graphs directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("graphs directory: %s is not a directory", dir)
	}
	return &FileStore{dir: dir}, nil
}

// Graph returns the definition with the given id.
func (s *FileStore) Graph(ctx context.Context, id string) (*domain.GraphDefinition, error) {
	graphs, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	def, ok := graphs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownGraph, id)
	}
	return def, nil
}

// GraphIDs lists the ids of all stored definitions, sorted.
func (s *FileStore) GraphIDs(ctx context.Context) ([]string, error) {
	graphs, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(graphs))
	for id := range graphs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// loadAll parses every graph document in the directory. Errors across
// files are accumulated so one pass reports all problems.
func (s *FileStore) loadAll(_ context.Context) (map[string]*domain.GraphDefinition, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read graphs directory: %w", err)
	}

	graphs := make(map[string]*domain.GraphDefinition)
	sources := make(map[string]string)
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !isGraphDocument(entry.Name()) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())

		//nolint:gosec // Graph documents live under the operator-controlled directory
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.Name(), err))
			continue
		}

		spec, err := config.ParseGraph(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.Name(), err))
			continue
		}

		def, err := spec.ToDomain()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.Name(), err))
			continue
		}

		if prev, dup := sources[def.ID]; dup {
			errs = append(errs, fmt.Errorf("%s: graph id %q already defined in %s", entry.Name(), def.ID, prev))
			continue
		}
		sources[def.ID] = entry.Name()
		graphs[def.ID] = &def
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return graphs, nil
}

// isGraphDocument reports whether the file name looks like a graph document.
func isGraphDocument(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}

package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Scopeo/draftnrun/pkg/domain"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Graph(ctx, "absent")
	require.ErrorIs(t, err, domain.ErrUnknownGraph)

	require.Error(t, store.Put(&domain.GraphDefinition{}))

	require.NoError(t, store.Put(&domain.GraphDefinition{ID: "b"}))
	require.NoError(t, store.Put(&domain.GraphDefinition{ID: "a"}))

	ids, err := store.GraphIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)

	def, err := store.Graph(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "a", def.ID)

	store.Delete("a")
	_, err = store.Graph(ctx, "a")
	require.ErrorIs(t, err, domain.ErrUnknownGraph)
}

func writeGraph(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	writeGraph(t, dir, "beta.yaml", `
id: beta
instances:
  - id: echo
    type: echo
    params:
      text: hello
`)
	writeGraph(t, dir, "alpha.yml", `
id: alpha
instances: []
`)
	// Non-graph files are ignored.
	writeGraph(t, dir, "README.md", "not a graph")

	store, err := NewFileStore(dir)
	require.NoError(t, err)

	ids, err := store.GraphIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta"}, ids)

	def, err := store.Graph(ctx, "beta")
	require.NoError(t, err)
	require.Equal(t, "beta", def.ID)
	require.Len(t, def.Instances, 1)

	_, err = store.Graph(ctx, "gamma")
	require.ErrorIs(t, err, domain.ErrUnknownGraph)
}

func TestFileStoreMalformedDocument(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	writeGraph(t, dir, "good.yaml", "id: good\ninstances: []\n")
	writeGraph(t, dir, "bad.yaml", "{broken")

	store, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = store.GraphIDs(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad.yaml")
}

func TestFileStoreDuplicateID(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	writeGraph(t, dir, "one.yaml", "id: flow\ninstances: []\n")
	writeGraph(t, dir, "two.yaml", "id: flow\ninstances: []\n")

	store, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = store.GraphIDs(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already defined")
}

func TestFileStoreMissingDir(t *testing.T) {
	_, err := NewFileStore(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}

func TestCatalogReloadAndServe(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeGraph(t, dir, "flow.yaml", "id: flow\ninstances: []\n")

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	catalog := NewCatalog(store, nil)

	// Empty until the first reload.
	require.Equal(t, 0, catalog.Len())
	require.Empty(t, catalog.Version())
	_, err = catalog.Graph(ctx, "flow")
	require.ErrorIs(t, err, domain.ErrUnknownGraph)

	require.NoError(t, catalog.Reload(ctx))
	require.Equal(t, 1, catalog.Len())
	require.EqualValues(t, 1, catalog.Generation())
	firstVersion := catalog.Version()
	require.NotEmpty(t, firstVersion)

	def, err := catalog.Graph(ctx, "flow")
	require.NoError(t, err)
	require.Equal(t, "flow", def.ID)

	writeGraph(t, dir, "second.yaml", "id: second\ninstances: []\n")
	require.NoError(t, catalog.Reload(ctx))
	require.Equal(t, 2, catalog.Len())
	require.EqualValues(t, 2, catalog.Generation())
	require.NotEqual(t, firstVersion, catalog.Version())

	ids, err := catalog.GraphIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"flow", "second"}, ids)
}

func TestCatalogKeepsLastKnownGoodOnFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeGraph(t, dir, "flow.yaml", "id: flow\ninstances: []\n")

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	catalog := NewCatalog(store, nil)
	require.NoError(t, catalog.Reload(ctx))
	goodVersion := catalog.Version()

	// Break the directory and attempt a reload.
	writeGraph(t, dir, "broken.yaml", "{broken")
	require.Error(t, catalog.Reload(ctx))

	// The previous snapshot still serves.
	require.Equal(t, goodVersion, catalog.Version())
	require.EqualValues(t, 1, catalog.Generation())
	def, err := catalog.Graph(ctx, "flow")
	require.NoError(t, err)
	require.Equal(t, "flow", def.ID)
}

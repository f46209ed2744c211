package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherFiresOnGraphWrite(t *testing.T) {
	dir := t.TempDir()

	changes := make(chan struct{}, 8)
	w, err := NewWatcher(dir, func() { changes <- struct{}{} }, nil)
	require.NoError(t, err)
	defer w.Close()

	path := filepath.Join(dir, "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: flow\ninstances: []\n"), 0644))

	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not fire for graph document write")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()

	changes := make(chan struct{}, 8)
	w, err := NewWatcher(dir, func() { changes <- struct{}{} }, nil)
	require.NoError(t, err)
	defer w.Close()

	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("scratch"), 0644))

	select {
	case <-changes:
		t.Fatal("watcher fired for non-graph file")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcherRequiresCallback(t *testing.T) {
	_, err := NewWatcher(t.TempDir(), nil, nil)
	require.Error(t, err)
}

func TestWatcherRejectsMissingDir(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "absent"), func() {}, nil)
	require.Error(t, err)
}

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes a graphs directory and invokes a callback after
// changes settle. Rapid write bursts (editors, rsync) collapse into a
// single callback through a debounce timer.
type Watcher struct {
	dir      string
	onChange func()
	debounce time.Duration
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	logger   *slog.Logger
}

// NewWatcher creates a watcher for the given directory. The callback runs
// on the watcher goroutine; it must not block for long.
func NewWatcher(dir string, onChange func(), logger *slog.Logger) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("watcher requires a change callback")
	}
	if logger == nil {
		logger = slog.Default()
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(absDir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", absDir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		dir:      absDir,
		onChange: onChange,
		debounce: 100 * time.Millisecond,
		watcher:  fsw,
		cancel:   cancel,
		logger:   logger,
	}

	go w.watchLoop(ctx)

	return w, nil
}

// Close stops the watcher and cleans up resources.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if !isGraphFile(event.Name) {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.logger.Debug("graph document changed",
					slog.String("path", event.Name),
					slog.String("op", event.Op.String()))
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(w.debounce, w.onChange)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", slog.Any("error", err))
		}
	}
}

// isGraphFile reports whether the path looks like a graph document.
func isGraphFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}

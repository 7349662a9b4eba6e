package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDebounce is how long after the last write the file is re-read.
const reloadDebounce = 500 * time.Millisecond

// Watcher hot-reloads the config file and hands validated snapshots to
// a callback. Invalid edits are logged and skipped; the previous config
// stays in effect.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	apply   func(*Config)
	log     *zap.Logger
}

// NewWatcher creates a file watcher for the given config path.
// The path must exist; a daemon running on pure defaults has nothing to watch.
//
// The watch is on the containing directory, not the file: editors save
// by writing a temp file and renaming it over the original, which would
// orphan a watch on the file itself.
func NewWatcher(path string, apply func(*Config), log *zap.Logger) (*Watcher, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config watch target: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %q: %w", dir, err)
	}
	return &Watcher{path: filepath.Clean(path), watcher: fw, apply: apply, log: log}, nil
}

// Run watches for file changes. Blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	// Single debounce timer, reset on each event.
	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-debounce.C:
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warn("config reload failed, keeping previous config",
					zap.String("path", w.path), zap.Error(err))
				continue
			}
			w.log.Info("config reloaded", zap.String("path", w.path))
			w.apply(cfg)

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(reloadDebounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

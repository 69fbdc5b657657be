package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the definitions file into e whenever it changes, until ctx
// is done. The parent directory is watched so that editors replacing the
// file atomically are picked up. A file that fails to parse is logged and
// the previous definitions stay in use. adjust, when set, is applied to
// every reloaded registry.
func Watch(ctx context.Context, path string, e *Engine, logger *slog.Logger, adjust func(*Registry) *Registry) error {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create workflow watcher: %w", err)
	}
	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				reg, err := LoadDefinitions(target)
				if err != nil {
					logger.Error("workflow definitions reload failed", "path", target, "error", err)
					continue
				}
				if adjust != nil {
					reg = adjust(reg)
				}
				e.SetRegistry(reg)
				logger.Info("workflow definitions reloaded", "path", target, "stages", len(reg.List()))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("workflow watcher error", "error", err)
			}
		}
	}()
	return nil
}

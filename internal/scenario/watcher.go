package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// StartWatcher runs a background goroutine that hot-reloads the responder's
// script whenever the file at path changes. Editors tend to replace files
// rather than write them in place, so the parent directory is watched and
// events are filtered by name. No-op when path is empty (embedded script).
func StartWatcher(ctx context.Context, path string, responder *ScriptResponder) error {
	if path == "" {
		return nil
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create script watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := fsW.Add(dir); err != nil {
		fsW.Close()
		return fmt.Errorf("watch script directory %s: %w", dir, err)
	}

	base := filepath.Base(path)
	go func() {
		defer fsW.Close()
		slog.Info("scenario watcher started", "path", path)

		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				slog.Info("scenario watcher shutting down", "reason", ctx.Err())
				return

			case event, ok := <-fsW.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}

				// Debounce: reset timer on each event.
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, func() {
					if err := responder.Reload(); err != nil {
						slog.Error("scenario reload failed, keeping previous script", "error", err)
					}
				})

			case err, ok := <-fsW.Errors:
				if !ok {
					return
				}
				slog.Warn("scenario watcher error", "error", err)
			}
		}
	}()

	return nil
}

package policy

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the policy file into the store whenever it changes, until
// ctx is cancelled. A reload failure keeps the previous policy active and
// logs a warning; the engine must never run without a valid policy.
//
// The parent directory is watched rather than the file itself because many
// editors and config-management tools replace files via rename, which drops
// a direct file watch.
func Watch(ctx context.Context, path string, store *Store, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	target := filepath.Clean(path)

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}

				p, err := Load(path)
				if err != nil {
					logger.Warn("policy reload failed, keeping previous policy", "path", path, "error", err)
					continue
				}
				store.Swap(p)
				logger.Info("policy reloaded", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("policy watcher error", "error", err)
			}
		}
	}()

	return nil
}

package command

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchCommandsFile reloads the registry when the commands file changes,
// swapping the matcher's registry pointer atomically. A broken edit keeps
// the previous registry. Blocks until ctx is done.
func WatchCommandsFile(ctx context.Context, path string, matcher *Matcher, log *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files on save, which drops
	// a watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cmds, err := LoadCommandsFile(path)
			if err != nil {
				log.Warn("commands file reload failed, keeping previous registry", "path", path, "error", err)
				continue
			}
			reg, err := NewRegistry(cmds)
			if err != nil {
				log.Warn("commands file invalid, keeping previous registry", "path", path, "error", err)
				continue
			}
			matcher.SwapRegistry(reg)
			log.Info("command registry reloaded", "path", path, "commands", len(cmds))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("commands file watcher error", "error", err)
		}
	}
}

package config

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file whenever it changes and passes each valid
// new configuration to onReload. Invalid intermediate states (editors
// often write in two steps) are logged and skipped. The returned stop
// function tears the watcher down.
func Watch(path string, logger *slog.Logger, onReload func(*Config)) (stop func(), err error) {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: renames during atomic saves drop
	// file-level watches.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}
	target := filepath.Clean(path)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					logger.Warn("config reload skipped", "error", err)
					continue
				}
				logger.Info("config reloaded", "path", path)
				onReload(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()
	return func() { _ = watcher.Close() }, nil
}

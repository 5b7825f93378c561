package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// configDebounce coalesces the burst of events an editor produces when it
// saves (write, rename, create) into one reload.
const configDebounce = 250 * time.Millisecond

// watchConfigFile reports edits to the config file at path. It watches the
// parent directory so atomic saves (write temp, rename over) are seen. If
// the directory cannot be watched the returned channel is nil, which blocks
// forever in a select.
func watchConfigFile(ctx context.Context, path string, logger *slog.Logger) <-chan struct{} {
	if path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("config file watch unavailable", slog.String("error", err.Error()))

		return nil
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		logger.Debug("not watching config directory",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)

		return nil
	}

	out := make(chan struct{}, 1)
	target := filepath.Clean(path)

	go func() {
		defer watcher.Close()

		var debounce <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}

				if filepath.Clean(ev.Name) != target || !configEventRelevant(ev) {
					continue
				}

				debounce = time.After(configDebounce)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}

				logger.Warn("config file watch error", slog.String("error", err.Error()))
			case <-debounce:
				debounce = nil

				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out
}

func configEventRelevant(ev fsnotify.Event) bool {
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

package pool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors module files for changes and triggers pool reload.
type Watcher struct {
	watcher  *fsnotify.Watcher
	paths    []string
	debounce time.Duration
	logger   *slog.Logger
	onChange func()
}

// NewWatcher creates a file watcher for the given paths. Paths that do
// not exist are skipped with a warning.
func NewWatcher(paths []string, debounce time.Duration, logger *slog.Logger, onChange func()) (*Watcher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	var watched []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			logger.Warn("watch path skipped", "path", p, "error", err)
			continue
		}
		if err := fw.Add(p); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watching %q: %w", p, err)
		}
		watched = append(watched, p)
	}

	return &Watcher{
		watcher:  fw,
		paths:    watched,
		debounce: debounce,
		logger:   logger,
		onChange: onChange,
	}, nil
}

// Paths returns the paths actually being watched.
func (w *Watcher) Paths() []string {
	return w.paths
}

// Run delivers debounced change notifications until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	w.logger.Info("file watcher started", "paths", w.paths, "debounce", w.debounce)

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("file changed", "path", event.Name, "op", event.Op.String())

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				w.logger.Info("file changes detected, reloading workers")
				w.onChange()
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

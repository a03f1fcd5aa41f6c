package server

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bianoble/elm-mirror/internal/logging"
)

// DefaultDebounce coalesces bursts of file events into one reload.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads the served registry when registry.json is replaced on
// disk by another process, such as a cron-driven `elm-mirror sync`.
type Watcher struct {
	Path     string
	Reload   func() error
	Logger   *slog.Logger
	Debounce time.Duration

	// ready, if set, is closed once the watch is established.
	ready chan struct{}
}

// Run watches until ctx is cancelled. The parent directory is watched
// because registry saves replace the file by rename.
func (w *Watcher) Run(ctx context.Context) error {
	log := w.Logger
	if log == nil {
		log = logging.Discard()
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	target, err := filepath.Abs(w.Path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", w.Path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(target), err)
	}
	if w.ready != nil {
		close(w.ready)
	}
	log.Info("watching registry", "path", target)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Warn("registry watcher error", "error", err)

		case <-timer.C:
			if err := w.Reload(); err != nil {
				log.Error("reloading registry", "error", err)
			}
		}
	}
}

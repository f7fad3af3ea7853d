package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads the catalog file whenever it changes on disk and hands the
// fresh Catalog to a callback.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(ctx context.Context, c *Catalog)
	logger   *slog.Logger
}

// NewWatcher creates a Watcher for the catalog at path. A zero debounce
// defaults to 500ms.
func NewWatcher(path string, debounce time.Duration, onChange func(ctx context.Context, c *Catalog)) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		path:     path,
		debounce: debounce,
		onChange: onChange,
		logger:   slog.Default(),
	}
}

// Run watches until ctx is cancelled. The parent directory is watched rather
// than the file itself so that editors which save via rename are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("resolving catalog path: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}
	w.logger.Info("watching catalog", "path", abs)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			c, err := Load(abs)
			if err != nil {
				w.logger.Warn("catalog reload failed, keeping previous catalog", "error", err)
				continue
			}
			w.logger.Info("catalog reloaded", "items", c.Len())
			w.onChange(ctx, c)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("catalog watcher error", "error", err)
		}
	}
}

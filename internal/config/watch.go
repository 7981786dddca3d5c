package config

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"time"
)

// WatchShops loads shops.yaml, hands it to onUpdate, then polls the file every interval.
// A modified file is reloaded and re-validated; onUpdate only sees catalogues that differ
// from the last one applied. A file that fails to load stays unapplied until its next
// modification and onError is told about it.
func WatchShops(ctx context.Context, path string, interval time.Duration, onUpdate func(*ShopsConfig), onError func(error)) error {
	if path == "" {
		path = "configs/shops.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	w := &shopsWatcher{path: path, onUpdate: onUpdate, onError: onError}
	if err := w.load(); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.check()
			}
		}
	}()
	return nil
}

type shopsWatcher struct {
	path     string
	lastMod  time.Time
	current  *ShopsConfig
	onUpdate func(*ShopsConfig)
	onError  func(error)
}

// load applies the file unconditionally. Used for the initial read.
func (w *shopsWatcher) load() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return fmt.Errorf("stat shops config: %w", err)
	}
	cfg, err := LoadShopsConfig(w.path)
	if err != nil {
		return err
	}
	w.lastMod = info.ModTime()
	w.apply(cfg)
	return nil
}

// check reloads the file when its mtime moved and reports whether a new catalogue was
// applied. A touched file with identical content is not re-applied.
func (w *shopsWatcher) check() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		return false // replaced mid-write; next tick sees it
	}
	if !info.ModTime().After(w.lastMod) {
		return false
	}
	w.lastMod = info.ModTime()

	cfg, err := LoadShopsConfig(w.path)
	if err != nil {
		if w.onError != nil {
			w.onError(err)
		}
		return false
	}
	if reflect.DeepEqual(cfg, w.current) {
		return false
	}
	w.apply(cfg)
	return true
}

func (w *shopsWatcher) apply(cfg *ShopsConfig) {
	w.current = cfg
	if w.onUpdate != nil {
		w.onUpdate(cfg)
	}
}

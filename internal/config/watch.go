package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce window: editors fire several write events per save.
const reloadDebounce = 300 * time.Millisecond

// Watch reloads the config file in place whenever it changes and calls
// onReload with the updated Config. Database mode and DSN changes are
// ignored until restart; everything else takes effect via ReplaceFrom.
// Blocks until ctx is canceled.
func Watch(ctx context.Context, path string, cfg *Config, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace the file on save, which
	// drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	lastHash := cfg.Hash()
	var timer *time.Timer
	reload := func() {
		next, err := Load(path)
		if err != nil {
			slog.Warn("config reload failed", "path", path, "error", err)
			return
		}
		h := next.Hash()
		if h == lastHash {
			return
		}
		lastHash = h
		prevDB := cfg.Database
		cfg.ReplaceFrom(next)
		cfg.mu.Lock()
		cfg.Database = prevDB // storage backend is fixed for the process lifetime
		cfg.mu.Unlock()
		slog.Info("config reloaded", "path", path)
		if onReload != nil {
			onReload(cfg)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}

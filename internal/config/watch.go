package config

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file on change; Current returns a copy of
// the most recently loaded value. A component that took its copy at
// startup does not see later reloads. Identity fields (tenant/team defaults) are read once at startup by
// convention, since mid-flight identity changes would be surprising for
// in-progress investigations.
type Watcher struct {
	path string

	mu  sync.RWMutex
	cur *Config
}

// NewWatcher loads path once and returns a Watcher holding the result.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, cur: cfg}, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	cfg := *w.cur
	return &cfg
}

// Run watches the config file for writes and reloads on each one,
// logging the old/new hash so an operator can tell a reload actually
// changed something. Returns when ctx is canceled or the watcher fails
// to start; a failed reload is logged and does not replace the live
// config.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.path); err != nil {
		slog.Warn("config.watch_unavailable", "path", w.path, "error", err)
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config.watch_error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		slog.Warn("config.reload_failed", "path", w.path, "error", err)
		return
	}

	prevHash, _ := w.cur.Hash()
	nextHash, _ := next.Hash()
	if prevHash == nextHash {
		return
	}

	w.mu.Lock()
	w.cur.ReplaceFrom(next)
	w.mu.Unlock()

	slog.Info("config.reloaded", "path", w.path, "prev_hash", prevHash, "new_hash", nextHash)
}

package config

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/ipfixprobe-go/ipfixprobe/internal/logger"
)

// Watcher reloads a Config from disk whenever its file changes, handing
// the new value to OnReload. Parse errors are logged and otherwise
// ignored, leaving the previous configuration in effect (a bad edit
// shouldn't take the exporter down).
type Watcher struct {
	path     string
	log      *logger.Logger
	OnReload func(*Config)
}

// NewWatcher returns a Watcher for the file at path.
func NewWatcher(path string, log *logger.Logger, onReload func(*Config)) *Watcher {
	return &Watcher{path: path, log: log, OnReload: onReload}
}

// Run watches the config file until ctx is cancelled. Editors that
// replace the file (rename-over-write) are handled by re-adding the
// watch whenever the original path disappears.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Remove != 0 || event.Op&fsnotify.Rename != 0 {
				_ = watcher.Add(w.path)
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if w.log != nil {
				w.log.Warn("config: watcher error", "error", err)
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		if w.log != nil {
			w.log.Warn("config: reload failed, keeping previous configuration", "error", err)
		}
		return
	}
	if w.log != nil {
		w.log.Info("config: reloaded", "path", w.path)
	}
	w.OnReload(cfg)
}

package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 3 * time.Second

// watcher triggers a run when the config file is written. The parent
// directory is watched so editors that replace the file are noticed.
type watcher struct {
	path     string
	debounce time.Duration
	trigger  func()
	log      *slog.Logger
}

func (w *watcher) Serve(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	target := filepath.Clean(w.path)
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	w.log.Debug("Watching config file", "path", target)

	// Editors often save in several writes; run once the file has settled.
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	pending := false

	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.log.Debug("Config file event", "path", ev.Name, "op", ev.Op.String())
			if pending && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.debounce)
			pending = true
		case <-timer.C:
			pending = false
			w.log.Info("Config file changed", "path", target)
			w.trigger()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("Config watcher error", "error", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *watcher) String() string { return "watcher" }

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openfroyo/durastep/pkg/telemetry"
)

// DefaultReloadDelay debounces bursts of writes from editors.
const DefaultReloadDelay = 500 * time.Millisecond

// Watcher reloads a configuration file when it changes.
type Watcher struct {
	path   string
	delay  time.Duration
	logger *telemetry.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher for path. A zero delay uses DefaultReloadDelay.
func NewWatcher(path string, delay time.Duration, logger *telemetry.Logger) *Watcher {
	if delay <= 0 {
		delay = DefaultReloadDelay
	}
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Watcher{
		path:   path,
		delay:  delay,
		logger: logger.NewComponentLogger("config-watcher").WithField("path", path),
	}
}

// Watch starts watching and calls reloadFn with every configuration that
// loads and validates after a change. Invalid files are logged and skipped.
// Watching stops when ctx is done.
func (w *Watcher) Watch(ctx context.Context, reloadFn func(*Config) error) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Editors often replace the file, so watch its directory.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	w.mu.Lock()
	w.watcher = fw
	w.mu.Unlock()

	go w.processEvents(ctx, fw, reloadFn)
	w.logger.Info("watching configuration")
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, fw *fsnotify.Watcher, reloadFn func(*Config) error) {
	defer fw.Close()

	target := filepath.Clean(w.path)
	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.logger.WithField("op", event.Op.String()).Debug("configuration changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(w.delay, func() {
				if ctx.Err() != nil {
					return
				}
				w.reload(reloadFn)
			})

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("watcher error")
		}
	}
}

func (w *Watcher) reload(reloadFn func(*Config) error) {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.WithError(err).Warn("ignoring invalid configuration")
		return
	}
	if err := reloadFn(cfg); err != nil {
		w.logger.WithError(err).Error("failed to apply configuration")
		return
	}
	w.logger.Info("configuration reloaded")
}

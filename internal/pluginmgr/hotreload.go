package pluginmgr

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// HotReloader watches the plugin folders for filesystem changes and
// triggers a RefreshChanged pass, supplementing the original's
// poll-on-command-only change detection with real filesystem events, since
// a compiled daemon can afford to run an fsnotify watcher continuously.
type HotReloader struct {
	watcher  *fsnotify.Watcher
	manager  *Manager
	logger   *zap.Logger
	debounce time.Duration
}

// NewHotReloader builds a watcher over the manager's plugin folders.
// Debounce collapses bursts of filesystem events (a common pattern when an
// editor saves a file) into a single refresh.
func NewHotReloader(manager *Manager, debounce time.Duration, logger *zap.Logger) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, folder := range manager.folders {
		if err := watcher.Add(folder); err != nil {
			logger.Warn("failed to watch plugin folder", zap.String("folder", folder), zap.Error(err))
		}
	}
	return &HotReloader{
		watcher:  watcher,
		manager:  manager,
		logger:   logger,
		debounce: debounce,
	}, nil
}

// Run blocks, triggering RefreshChanged on every debounced burst of
// filesystem events, until ctx is cancelled.
func (h *HotReloader) Run(ctx context.Context) error {
	defer h.watcher.Close()
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-h.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !pending {
				pending = true
				timer.Reset(h.debounce)
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Warn("plugin folder watch error", zap.Error(err))
		case <-timer.C:
			pending = false
			if err := h.manager.RefreshChanged(ctx, nil); err != nil {
				h.logger.Warn("hot reload refresh failed", zap.Error(err))
			}
		}
	}
}

// Stop closes the underlying filesystem watcher.
func (h *HotReloader) Stop() error {
	return h.watcher.Close()
}

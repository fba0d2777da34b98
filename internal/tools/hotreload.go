package tools

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadHandler is called when the manifest changes. It receives a freshly
// loaded registry; swapping it in is the caller's business.
type ReloadHandler func(reg *Registry)

// ManifestWatcher watches a tools.yaml for changes and rebuilds the
// registry. Changes are debounced (300ms) to avoid rapid reloads.
type ManifestWatcher struct {
	path     string
	builtins map[string]Tool
	watcher  *fsnotify.Watcher
	handlers []ReloadHandler
	debounce time.Duration
	stopChan chan struct{}
	mu       sync.Mutex
}

// NewManifestWatcher creates a manifest file watcher.
func NewManifestWatcher(manifestPath string, builtins map[string]Tool) (*ManifestWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &ManifestWatcher{
		path:     manifestPath,
		builtins: builtins,
		watcher:  w,
		debounce: 300 * time.Millisecond,
	}, nil
}

// OnReload registers a handler to be called when the manifest changes.
func (mw *ManifestWatcher) OnReload(handler ReloadHandler) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.handlers = append(mw.handlers, handler)
}

// Start begins watching the manifest file for changes.
func (mw *ManifestWatcher) Start() error {
	if err := mw.watcher.Add(mw.path); err != nil {
		return err
	}

	mw.stopChan = make(chan struct{})
	go mw.watchLoop()

	slog.Info("tool manifest watcher started", "path", mw.path)
	return nil
}

// Stop halts the file watcher.
func (mw *ManifestWatcher) Stop() {
	if mw.stopChan != nil {
		close(mw.stopChan)
	}
	mw.watcher.Close()
	slog.Info("tool manifest watcher stopped")
}

func (mw *ManifestWatcher) watchLoop() {
	var debounceTimer *time.Timer

	for {
		select {
		case <-mw.stopChan:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-mw.watcher.Events:
			if !ok {
				return
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			// Debounce: reset timer on each change
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(mw.debounce, func() {
				mw.reload()
			})

		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("tool manifest watcher error", "error", err)
		}
	}
}

func (mw *ManifestWatcher) reload() {
	slog.Info("tool manifest changed, reloading", "path", mw.path)

	reg := NewRegistry()
	if err := LoadManifest(mw.path, mw.builtins, reg); err != nil {
		slog.Error("tool manifest reload failed", "error", err)
		return
	}

	mw.mu.Lock()
	handlers := make([]ReloadHandler, len(mw.handlers))
	copy(handlers, mw.handlers)
	mw.mu.Unlock()

	for _, h := range handlers {
		h(reg)
	}

	slog.Info("tool manifest reloaded", "tools", reg.Count())
}

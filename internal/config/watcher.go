package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ReloadCallback receives the freshly loaded config after the file changes.
type ReloadCallback func(*Config)

// Watcher reloads the config file when it changes on disk. Only the mutable
// subset matters to callers; the callback decides what to apply.
type Watcher struct {
	loader   *Loader
	onReload ReloadCallback

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

const reloadDebounce = 200 * time.Millisecond

// NewWatcher creates a watcher over the loader's config file.
func NewWatcher(loader *Loader, onReload ReloadCallback) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		loader:   loader,
		onReload: onReload,
		watcher:  fw,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. The config directory is watched rather than the
// file itself so atomic rename-style rewrites are seen.
func (w *Watcher) Start() error {
	configPath := w.loader.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("no config path to watch")
	}
	if err := w.watcher.Add(filepath.Dir(configPath)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.eventLoop(configPath)

	log.Info().Str("path", configPath).Msg("Config watcher started")
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	log.Info().Msg("Config watcher stopped")
	return nil
}

func (w *Watcher) eventLoop(configPath string) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")

		case <-w.done:
			return
		}
	}
}

// scheduleReload debounces bursts of write events into one reload.
func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Config reload failed, keeping previous configuration")
		return
	}
	log.Info().Str("mode", cfg.Mode).Str("log_level", cfg.Logging.Level).
		Msg("Configuration reloaded")
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

// Package watcher watches the configuration file and hot-reloads the settings that can
// change without a restart: log level and output, and refresh timing.
package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/growgrammers/authflow/internal/config"
	log "github.com/sirupsen/logrus"
)

const configReloadDebounce = 150 * time.Millisecond

// Watcher reloads the configuration when its file changes.
type Watcher struct {
	configPath     string
	configMu       sync.RWMutex
	config         *config.Config
	lastConfigHash string

	configReloadMu    sync.Mutex
	configReloadTimer *time.Timer
	reloadCallback    func(old, updated *config.Config)

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWatcher creates a watcher for configPath. reloadCallback runs after every successful
// reload with the previous and the new configuration.
func NewWatcher(configPath string, reloadCallback func(old, updated *config.Config)) (*Watcher, error) {
	fsw, errNewWatcher := fsnotify.NewWatcher()
	if errNewWatcher != nil {
		return nil, errNewWatcher
	}
	return &Watcher{
		configPath:     configPath,
		reloadCallback: reloadCallback,
		watcher:        fsw,
	}, nil
}

// Start begins watching the configuration file.
func (w *Watcher) Start(ctx context.Context) error {
	return w.start(ctx)
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.stopConfigReloadTimer()
	err := w.watcher.Close()
	if w.done != nil {
		<-w.done
	}
	return err
}

// SetConfig sets the configuration that later reloads are compared against.
func (w *Watcher) SetConfig(cfg *config.Config) {
	w.configMu.Lock()
	defer w.configMu.Unlock()
	w.config = cfg
	if hash, err := fileHash(w.configPath); err == nil {
		w.lastConfigHash = hash
	}
}

// Config returns the most recently loaded configuration.
func (w *Watcher) Config() *config.Config {
	w.configMu.RLock()
	defer w.configMu.RUnlock()
	return w.config
}

func (w *Watcher) logger() *log.Entry {
	return log.WithField("path", w.configPath)
}

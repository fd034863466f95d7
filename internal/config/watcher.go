package config

import (
	"context"
	"os"
	"sync"
	"time"

	"tgqqbridge/internal/models"

	"github.com/sirupsen/logrus"
)

const defaultPollInterval = 5 * time.Second

// Watcher polls the config file and reloads it on change. Only runtime
// tunables (filter keywords and the like) take effect live; endpoints and
// credentials need a restart. Reload failures keep the previous config.
type Watcher struct {
	configPath   string
	pollInterval time.Duration
	logger       *logrus.Logger
	mu           sync.RWMutex
	config       *models.Config
	callbacks    []func(*models.Config)
}

func NewWatcher(configPath string, logger *logrus.Logger) *Watcher {
	return &Watcher{
		configPath:   configPath,
		pollInterval: defaultPollInterval,
		logger:       logger,
	}
}

// OnReload registers a callback invoked with each successfully reloaded
// config. Register before Start.
func (w *Watcher) OnReload(callback func(*models.Config)) {
	w.callbacks = append(w.callbacks, callback)
}

// GetConfig returns the most recently loaded config.
func (w *Watcher) GetConfig() *models.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start loads the config and polls for changes until the context is
// cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	config, err := LoadConfig(w.configPath)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.config = config
	w.mu.Unlock()

	stat, err := os.Stat(w.configPath)
	if err != nil {
		return err
	}
	lastModTime := stat.ModTime()

	w.logger.WithField("path", w.configPath).Info("Configuration watcher started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Configuration watcher stopping")
			return nil

		case <-ticker.C:
			stat, err := os.Stat(w.configPath)
			if err != nil {
				w.logger.WithError(err).Error("Failed to stat configuration file")
				continue
			}

			if stat.ModTime().After(lastModTime) {
				lastModTime = stat.ModTime()
				// Give the writer a moment to finish.
				time.Sleep(100 * time.Millisecond)
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	config, err := LoadConfig(w.configPath)
	if err != nil {
		w.logger.WithError(err).Error("Failed to reload configuration, keeping previous")
		return
	}

	w.mu.Lock()
	w.config = config
	w.mu.Unlock()

	w.logger.Info("Configuration reloaded")

	for _, callback := range w.callbacks {
		callback(config)
	}
}

package service

import (
	"context"
	"time"

	"tgqqbridge/internal/constants"

	"github.com/sirupsen/logrus"
)

// CleanupStore prunes aged rows from the mapping store and retry queue.
type CleanupStore interface {
	PurgeMappingsOlderThan(ctx context.Context, retention time.Duration) (int64, error)
	PurgeTerminalTasks(ctx context.Context, retention time.Duration) (int64, error)
}

// Cleaner periodically enforces the retention window on stored mappings
// and finished retry tasks.
type Cleaner struct {
	store          CleanupStore
	retentionHours int
	intervalHours  int
	logger         *logrus.Logger
	stopCh         chan struct{}
}

func NewCleaner(store CleanupStore, retentionHours, intervalHours int, logger *logrus.Logger) *Cleaner {
	if intervalHours <= 0 {
		intervalHours = constants.DefaultCleanupIntervalHours
	}
	if retentionHours <= 0 {
		retentionHours = constants.DefaultRetentionHours
	}
	return &Cleaner{
		store:          store,
		retentionHours: retentionHours,
		intervalHours:  intervalHours,
		logger:         logger,
		stopCh:         make(chan struct{}),
	}
}

func (c *Cleaner) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(c.intervalHours) * time.Hour)
	defer ticker.Stop()

	c.logger.Info("Starting retention cleaner")

	c.runCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Cleaner context cancelled, stopping")
			return
		case <-c.stopCh:
			c.logger.Info("Cleaner stop signal received, stopping")
			return
		case <-ticker.C:
			c.runCleanup(ctx)
		}
	}
}

func (c *Cleaner) Stop() {
	close(c.stopCh)
}

func (c *Cleaner) runCleanup(ctx context.Context) {
	retention := time.Duration(c.retentionHours) * time.Hour
	log := c.logger.WithField("retentionHours", c.retentionHours)

	mappings, err := c.store.PurgeMappingsOlderThan(ctx, retention)
	if err != nil {
		log.WithError(err).Error("Failed to purge old mappings")
	}

	tasks, err := c.store.PurgeTerminalTasks(ctx, retention)
	if err != nil {
		log.WithError(err).Error("Failed to purge finished retry tasks")
	}

	if mappings > 0 || tasks > 0 {
		log.WithFields(logrus.Fields{
			"mappings": mappings,
			"tasks":    tasks,
		}).Info("Retention cleanup removed aged rows")
	}
}

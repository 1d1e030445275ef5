// Package cleanup provides the background expiry sweeper for the in-memory counter store
package cleanup

import (
	"context"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
)

// Purger is a store that can drop its expired keys.
type Purger interface {
	PurgeExpired() int
}

// Worker handles background cache cleanup operations
type Worker struct {
	store  Purger
	config *Config
	logger *logging.ChanneledLogger
}

// NewWorker creates a new cleanup worker with injected configuration
func NewWorker(store Purger, config *Config, logger *logging.ChanneledLogger) *Worker {
	if config == nil {
		config = NewConfig()
	}
	return &Worker{
		store:  store,
		config: config,
		logger: logger,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	interval := w.config.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Cache().Info("Counter store sweeper started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			w.logger.Cache().Info("Counter store sweeper stopping")
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep performs one purge pass and returns the number of keys removed.
func (w *Worker) Sweep() int {
	start := time.Now()
	removed := w.store.PurgeExpired()

	if removed > 0 {
		w.logger.Cache().Info("Counter store sweep finished", "removed", removed, "duration", time.Since(start))
	} else if w.config.VerboseReporting {
		w.logger.Cache().Debug("Counter store sweep found no expired keys", "duration", time.Since(start))
	}
	return removed
}

package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/eventoutbox/libs/outbox"
)

type Purger interface {
	PurgeHistory(ctx context.Context, olderThanDays int) (int64, error)
}

type PurgeConfig struct {
	Interval      time.Duration
	OlderThanDays int
}

// PurgeWorker periodically deletes published outbox rows. Their history
// copies are left alone.
type PurgeWorker struct {
	store    Purger
	logger   *slog.Logger
	interval time.Duration
	days     int
}

func NewPurgeWorker(store Purger, logger *slog.Logger, cfg PurgeConfig) *PurgeWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.OlderThanDays <= 0 {
		cfg.OlderThanDays = outbox.DefaultPurgeAfterDays
	}
	return &PurgeWorker{
		store:    store,
		logger:   logger,
		interval: cfg.Interval,
		days:     cfg.OlderThanDays,
	}
}

// Run purges once at start and then every interval until ctx ends.
func (w *PurgeWorker) Run(ctx context.Context) {
	w.purge(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.purge(ctx)
		}
	}
}

func (w *PurgeWorker) purge(ctx context.Context) {
	deleted, err := w.store.PurgeHistory(ctx, w.days)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("outbox purge failed", "err", err)
		}
		return
	}
	if deleted > 0 {
		w.logger.Info("outbox purge", "deleted", deleted, "older_than_days", w.days)
	}
}

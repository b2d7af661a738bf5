package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/p-arndt/rechenkasten/internal/store"
)

// Reaper keeps persisted records honest and bounds the registry's freed
// set.
type Reaper struct {
	store     ReaperStore
	registry  ReaperRegistry
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

func New(st ReaperStore, reg ReaperRegistry, interval, retention time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		store:     st,
		registry:  reg,
		interval:  interval,
		retention: retention,
		logger:    logger,
	}
}

// Run prunes the freed set every interval until ctx is done. Reconcile is
// separate so the caller can run it before any computer starts.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started", "interval", r.interval, "retention", r.retention)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.pruneFreed()
		}
	}
}

func (r *Reaper) pruneFreed() {
	if n := r.registry.PruneFreed(r.retention); n > 0 {
		r.logger.Debug("reaper: pruned freed references", "count", n)
	}
}

// Reconcile marks records that claim a running computer as crashed when no
// such computer is live, e.g. after the previous process died.
func (r *Reaper) Reconcile() {
	r.logger.Info("reconciliation starting")

	for _, status := range []string{store.StatusRunning, store.StatusRebooting} {
		records, err := r.store.ListByStatus(status)
		if err != nil {
			r.logger.Error("reconcile: list computers", "status", status, "error", err)
			continue
		}

		for _, rec := range records {
			if r.registry.IsRunning(rec.ID) {
				continue
			}
			r.logger.Warn("reconcile: computer not running, marking crashed",
				"computer_id", rec.ID, "status", rec.Status)
			if err := r.store.UpdateStatus(rec.ID, store.StatusCrashed); err != nil {
				r.logger.Error("reconcile: update status", "computer_id", rec.ID, "error", err)
			}
		}
	}

	r.logger.Info("reconciliation complete")
}

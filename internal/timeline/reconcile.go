package timeline

import (
	"context"
	"log/slog"
	"time"
)

// Reconciler repairs projection gaps. The timeline row is authoritative; a
// write that landed in the timeline but missed the vector index or the graph
// leaves projected_at unset, and the reconciler re-projects it on the next
// sweep.
type Reconciler struct {
	service  *Service
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

// NewReconciler builds a reconciler sweeping at the given interval.
func NewReconciler(service *Service, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		service:  service,
		interval: interval,
		batch:    100,
		logger:   slog.Default().With("component", "timeline_reconciler"),
	}
}

// Run sweeps until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.Sweep(ctx); err != nil {
				r.logger.Warn("reconcile sweep failed", "error", err)
			} else if n > 0 {
				r.logger.Info("reprojected entries", "count", n)
			}
		}
	}
}

// Sweep re-projects one batch of unprojected entries and reports how many
// were attempted.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	entries, err := r.service.repo.Unprojected(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		r.service.project(ctx, entry)
	}
	return len(entries), nil
}

package workers

import (
	"context"
	"time"

	"suemybrother/internal/pkg/logger"
)

// Refresher re-polls the provider for every payment that has not finished.
type Refresher interface {
	RefreshUnfinished(ctx context.Context) (int, error)
}

// Reconciler catches payments whose return redirect never reached us, e.g.
// a closed browser tab after paying.
type Reconciler struct {
	refresher Refresher
	interval  time.Duration
}

func NewReconciler(refresher Refresher, interval time.Duration) *Reconciler {
	return &Reconciler{refresher: refresher, interval: interval}
}

// Run blocks until ctx is cancelled. A zero interval returns immediately.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return nil
	}

	l := logger.Component("reconciler")
	ctx = l.WithContext(ctx)
	l.Info().Dur("interval", r.interval).Msg("payment reconciler started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("payment reconciler stopped")
			return nil
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

func (r *Reconciler) RunOnce(ctx context.Context) int {
	l := logger.Component("reconciler")
	n, err := r.refresher.RefreshUnfinished(ctx)
	if err != nil {
		l.Error().Err(err).Msg("failed to list unfinished payments")
		return 0
	}
	if n > 0 {
		l.Info().Int("refreshed", n).Msg("reconciled payments")
	}
	return n
}

package stats

import (
	"context"
	"time"

	"civicq/records-service/internal/logging"
)

// Reconciler runs Reconcile on a fixed interval. It satisfies
// suture.Service.
type Reconciler struct {
	aggregator *Aggregator
	interval   time.Duration
}

func NewReconciler(aggregator *Aggregator, interval time.Duration) *Reconciler {
	return &Reconciler{aggregator: aggregator, interval: interval}
}

func (r *Reconciler) Serve(ctx context.Context) error {
	log := logging.WithComponent("stats-reconciler")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report, err := r.aggregator.Reconcile(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Error().Err(err).Msg("statistics reconciliation failed")
				continue
			}
			log.Debug().Int("dimensions", report.Dimensions).Int("corrected", len(report.Corrected)).Int("rolled_over", report.RolledOver).
				Dur("duration", report.Duration).Msg("statistics reconciled")
		}
	}
}

func (r *Reconciler) String() string {
	return "stats-reconciler"
}

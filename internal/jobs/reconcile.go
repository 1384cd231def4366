package jobs

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

var reconcileRepairsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cycle_reconcile_repairs_total",
		Help: "Cycles whose status was repaired to match ride state",
	},
	[]string{"repair"},
)

func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(reconcileRepairsTotal)
}

type Reconciler interface {
	Reconcile(ctx context.Context) (released, claimed int64, err error)
}

// Reconcile returns a job that repairs cycles left in-use without an active
// ride, and cycles carrying an active ride that are not marked in-use.
func Reconcile(r Reconciler, logger *slog.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		released, claimed, err := r.Reconcile(ctx)
		if err != nil {
			return err
		}
		reconcileRepairsTotal.WithLabelValues("released").Add(float64(released))
		reconcileRepairsTotal.WithLabelValues("claimed").Add(float64(claimed))
		if released+claimed > 0 {
			logger.WarnContext(ctx, "repaired cycle status", "released", released, "claimed", claimed)
		}
		return nil
	}
}

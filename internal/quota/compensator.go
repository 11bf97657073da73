package quota

import (
	"context"
	"log/slog"

	"github.com/vin-jex/job-engine/internal/guard"
	"github.com/vin-jex/job-engine/internal/observability"
	"github.com/vin-jex/job-engine/internal/store"
)

const ledgerDependency = "quota-ledger"

// Compensator hands a failed job's reservation back to the ledger. Each call
// is a single guarded attempt sequence; a rollback that still fails is logged
// and counted, and is not retried later.
type Compensator struct {
	ledger  Ledger
	guard   *guard.Guard
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewCompensator(
	ledger Ledger,
	g *guard.Guard,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Compensator {
	return &Compensator{
		ledger:  ledger,
		guard:   g,
		logger:  logger,
		metrics: metrics,
	}
}

// Rollback is safe to call with a nil reservation.
func (c *Compensator) Rollback(
	ctx context.Context,
	job *store.Job,
	reservation *store.QuotaReservation,
) error {
	if reservation == nil {
		return nil
	}

	_, err := guard.Call(ctx, c.guard, ledgerDependency, func(callCtx context.Context) (struct{}, error) {
		return struct{}{}, c.ledger.RollbackQuota(
			callCtx,
			job.OwnerID,
			reservation.PeriodKey,
			reservation.Metric,
			reservation.Amount,
		)
	})
	if err != nil {
		c.metrics.QuotaRollbacks.WithLabelValues("error").Inc()
		c.logger.Error("quota rollback failed",
			"job_id", job.ID,
			"owner_id", job.OwnerID,
			"period_key", reservation.PeriodKey,
			"metric", reservation.Metric,
			"amount", reservation.Amount,
			"err", err,
		)
		return err
	}

	c.metrics.QuotaRollbacks.WithLabelValues("ok").Inc()
	c.logger.Info("quota rolled back",
		"job_id", job.ID,
		"owner_id", job.OwnerID,
		"metric", reservation.Metric,
		"amount", reservation.Amount,
	)

	return nil
}

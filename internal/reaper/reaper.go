// Package reaper recovers jobs left RUNNING by crashed or hung workers.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/vin-jex/job-engine/internal/observability"
	"github.com/vin-jex/job-engine/internal/store"
)

const StuckReason = "stuck RUNNING"

type JobReaper interface {
	ReapStuckJobs(ctx context.Context, request store.ReapRequest) ([]store.ReapedJob, error)
}

type QuotaCompensator interface {
	Rollback(ctx context.Context, job *store.Job, reservation *store.QuotaReservation) error
}

type Config struct {
	Timeout     time.Duration
	BatchSize   int
	MaxAttempts int
}

type Reaper struct {
	jobs        JobReaper
	compensator QuotaCompensator
	config      Config
	logger      *slog.Logger
	metrics     *observability.Metrics
}

func New(
	jobs JobReaper,
	compensator QuotaCompensator,
	config Config,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Reaper {
	return &Reaper{
		jobs:        jobs,
		compensator: compensator,
		config:      config,
		logger:      logger,
		metrics:     metrics,
	}
}

// Reap runs one recovery pass and returns how many jobs it touched.
// Rollback failures are logged by the compensator and do not fail the pass.
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	reaped, err := r.jobs.ReapStuckJobs(ctx, store.ReapRequest{
		Timeout:     r.config.Timeout,
		BatchSize:   r.config.BatchSize,
		MaxAttempts: r.config.MaxAttempts,
		Reason:      StuckReason,
	})
	if err != nil {
		return 0, err
	}

	for _, entry := range reaped {
		if entry.Failed {
			r.metrics.JobsReaped.WithLabelValues("failed").Inc()
			r.logger.Error("stuck job failed at attempts ceiling",
				"job_id", entry.Job.ID,
				"job_type", entry.Job.Type,
				"attempts", entry.Job.Meta.Attempts,
			)
		} else {
			r.metrics.JobsReaped.WithLabelValues("requeued").Inc()
			r.logger.Warn("stuck job re-queued",
				"job_id", entry.Job.ID,
				"job_type", entry.Job.Type,
				"attempts", entry.Job.Meta.Attempts,
			)
		}

		if entry.Rollback != nil {
			_ = r.compensator.Rollback(ctx, entry.Job, entry.Rollback)
		}
	}

	return len(reaped), nil
}

// Package worker turns handler outcomes into job state transitions.
//
// Every report is conditional on the lease the job was claimed under. A
// report rejected because the lease moved on (the reaper re-queued the job,
// or another worker now holds it) is discarded.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vin-jex/job-engine/internal/dispatch"
	"github.com/vin-jex/job-engine/internal/observability"
	"github.com/vin-jex/job-engine/internal/retry"
	"github.com/vin-jex/job-engine/internal/store"
)

type JobStore interface {
	CompleteJob(ctx context.Context, lease store.Lease, completion store.Completion) (store.CompletionResult, error)
	RequeueJob(ctx context.Context, lease store.Lease, meta store.SchedulerMeta) (store.RequeueResult, error)
	FailJob(ctx context.Context, lease store.Lease, message string, meta store.SchedulerMeta) (store.FailResult, error)
}

type Successors interface {
	Successor(job *store.Job) *store.NewJob
}

type QuotaCompensator interface {
	Rollback(ctx context.Context, job *store.Job, reservation *store.QuotaReservation) error
}

type Executor struct {
	store       JobStore
	successors  Successors
	policy      retry.Policy
	compensator QuotaCompensator
	now         func() time.Time
	logger      *slog.Logger
	metrics     *observability.Metrics
}

func New(
	jobStore JobStore,
	successors Successors,
	policy retry.Policy,
	compensator QuotaCompensator,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Executor {
	return &Executor{
		store:       jobStore,
		successors:  successors,
		policy:      policy,
		compensator: compensator,
		now:         time.Now,
		logger:      logger,
		metrics:     metrics,
	}
}

// Complete marks the job COMPLETED and enqueues its successor, if any, in
// the same transaction.
func (e *Executor) Complete(ctx context.Context, job *store.Job, result dispatch.Result) error {
	completion := store.Completion{
		Result:    result.Body,
		Summary:   result.Summary,
		Successor: e.successors.Successor(job),
	}

	completed, err := e.store.CompleteJob(ctx, job.Lease(), completion)
	if err != nil {
		return e.leaseLost(job, "complete", err)
	}

	e.metrics.JobsCompleted.WithLabelValues(job.Type).Inc()

	if completed.Successor != nil {
		outcome := "existing"
		if completed.SuccessorCreated {
			outcome = "created"
		}
		e.metrics.JobsChained.WithLabelValues(outcome).Inc()
		e.logger.Info("job completed, successor enqueued",
			"job_id", job.ID,
			"job_type", job.Type,
			"successor_id", completed.Successor.ID,
			"successor_type", completed.Successor.Type,
			"successor_created", completed.SuccessorCreated,
		)
		return nil
	}

	e.logger.Info("job completed",
		"job_id", job.ID,
		"job_type", job.Type,
	)

	return nil
}

// Fail applies the retry policy to cause: re-queue with backoff, complete
// as skipped, or fail terminally. Every one of these hands back the job's
// quota reservation; the store releases it only once.
func (e *Executor) Fail(ctx context.Context, job *store.Job, cause error) error {
	decision := e.policy.Decide(job.Meta, cause, e.now())

	switch decision.Action {
	case retry.ActionRequeue:
		requeued, err := e.store.RequeueJob(ctx, job.Lease(), decision.Meta)
		if err != nil {
			return e.leaseLost(job, "requeue", err)
		}

		e.metrics.JobsRequeued.WithLabelValues(job.Type).Inc()
		e.logger.Warn("job re-queued after retryable failure",
			"job_id", job.ID,
			"job_type", job.Type,
			"attempts", decision.Meta.Attempts,
			"delay", decision.Delay,
			"provider", decision.Meta.Provider,
			"err", decision.Message,
		)

		e.compensate(ctx, requeued.Job, requeued.Rollback)
		return nil

	case retry.ActionSkip:
		skipped, err := e.store.CompleteJob(ctx, job.Lease(), store.Completion{
			Summary: "skipped: " + decision.Message,
			Meta:    &decision.Meta,
			Skipped: true,
		})
		if err != nil {
			return e.leaseLost(job, "skip", err)
		}

		e.metrics.JobsSkipped.WithLabelValues(job.Type).Inc()
		e.logger.Warn("job skipped on missing configuration",
			"job_id", job.ID,
			"job_type", job.Type,
			"err", decision.Message,
		)

		e.compensate(ctx, skipped.Job, skipped.Rollback)
		return nil
	}

	failed, err := e.store.FailJob(ctx, job.Lease(), decision.Message, decision.Meta)
	if err != nil {
		return e.leaseLost(job, "fail", err)
	}

	e.metrics.JobsFailed.WithLabelValues(job.Type, decision.Class.String()).Inc()
	e.logger.Error("job failed",
		"job_id", job.ID,
		"job_type", job.Type,
		"class", decision.Class.String(),
		"attempts", decision.Meta.Attempts,
		"err", decision.Message,
	)

	e.compensate(ctx, failed.Job, failed.Rollback)
	return nil
}

// compensate issues the rollback for a reservation the store handed back.
// Failures are logged by the compensator and do not fail the report.
func (e *Executor) compensate(ctx context.Context, job *store.Job, reservation *store.QuotaReservation) {
	if reservation == nil {
		return
	}
	_ = e.compensator.Rollback(ctx, job, reservation)
}

func (e *Executor) leaseLost(job *store.Job, operation string, err error) error {
	if errors.Is(err, store.ErrLeaseLost) {
		e.logger.Warn("discarding report for lost lease",
			"job_id", job.ID,
			"job_type", job.Type,
			"operation", operation,
		)
		return nil
	}

	return err
}

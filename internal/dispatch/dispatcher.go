// Package dispatch routes claimed jobs to the handler registered for their
// type and reports the outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vin-jex/job-engine/internal/failure"
	"github.com/vin-jex/job-engine/internal/observability"
	"github.com/vin-jex/job-engine/internal/store"
)

var (
	ErrNotImplemented = errors.New("not implemented")
	ErrMaxRuntime     = errors.New("job exceeded max runtime")
)

// Reporter records the outcome of a dispatched job against its lease.
type Reporter interface {
	Complete(ctx context.Context, job *store.Job, result Result) error
	Fail(ctx context.Context, job *store.Job, cause error) error
}

type Dispatcher struct {
	registry   *Registry
	reporter   Reporter
	maxRuntime time.Duration
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer
}

func NewDispatcher(
	registry *Registry,
	reporter Reporter,
	maxRuntime time.Duration,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Dispatcher {
	return &Dispatcher{
		registry:   registry,
		reporter:   reporter,
		maxRuntime: maxRuntime,
		logger:     logger,
		metrics:    metrics,
		tracer:     otel.Tracer("github.com/vin-jex/job-engine/internal/dispatch"),
	}
}

type outcome struct {
	result Result
	err    error
}

// Dispatch runs the handler for job and reports the outcome. A handler that
// outlives the max runtime is abandoned: its context is cancelled and the
// job is failed with a retryable timeout. The returned error is a reporting
// error only; handler failures are reported, not returned.
func (d *Dispatcher) Dispatch(ctx context.Context, job *store.Job) error {
	ctx, span := d.tracer.Start(ctx, "job.dispatch", trace.WithAttributes(
		attribute.String("job.id", job.ID.String()),
		attribute.String("job.type", job.Type),
		attribute.Int("job.attempts", job.Meta.Attempts),
	))
	defer span.End()

	logger := d.logger.With(
		"job_id", job.ID,
		"job_type", job.Type,
		"owner_id", job.OwnerID,
	)
	ctx = observability.WithLogger(ctx, logger)

	// Reports must land even when the loop is shutting down.
	reportCtx := context.WithoutCancel(ctx)

	handle, ok := d.registry.Lookup(job.Type)
	if !ok {
		err := failure.Permanent(fmt.Errorf("job type %q %w", job.Type, ErrNotImplemented))
		span.SetStatus(codes.Error, err.Error())
		logger.Error("no handler registered")
		return d.reporter.Fail(reportCtx, job, err)
	}

	started := time.Now()
	result := d.run(ctx, handle, job)
	elapsed := time.Since(started).Seconds()

	if result.err != nil {
		label := "failed"
		if errors.Is(result.err, ErrMaxRuntime) {
			label = "timeout"
		}
		d.metrics.JobDuration.WithLabelValues(job.Type, label).Observe(elapsed)

		span.RecordError(result.err)
		span.SetStatus(codes.Error, result.err.Error())
		logger.Warn("job handler failed", "err", result.err)

		return d.reporter.Fail(reportCtx, job, result.err)
	}

	d.metrics.JobDuration.WithLabelValues(job.Type, "completed").Observe(elapsed)
	span.SetStatus(codes.Ok, "")

	return d.reporter.Complete(reportCtx, job, result.result)
}

func (d *Dispatcher) run(ctx context.Context, handle HandlerFunc, job *store.Job) outcome {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- outcome{err: fmt.Errorf("handler panicked: %v", recovered)}
			}
		}()

		result, err := handle(runCtx, job)
		done <- outcome{result: result, err: err}
	}()

	var timeout <-chan time.Time
	if d.maxRuntime > 0 {
		timer := time.NewTimer(d.maxRuntime)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case result := <-done:
		return result
	case <-timeout:
		return outcome{err: fmt.Errorf("%w of %s: %w", ErrMaxRuntime, d.maxRuntime, context.DeadlineExceeded)}
	}
}

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/vin-jex/job-engine/internal/store"
)

// Run ticks until ctx is cancelled. A tick that claimed nothing is followed
// by a sleep of PollInterval; a productive tick is followed immediately by
// the next one. On shutdown in-flight jobs get ShutdownGrace to finish before
// their contexts are cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	s.logger.Info("scheduler started",
		"poll_interval", s.config.PollInterval,
		"claim_batch_size", s.config.ClaimBatchSize,
		"max_concurrency", s.admission.MaxConcurrency(),
		"max_running_per_owner", s.admission.MaxRunningPerOwner(),
	)

	for {
		claimed, err := s.tick(ctx, jobCtx)
		if err != nil && ctx.Err() == nil {
			s.metrics.TickErrors.Inc()
			s.logger.Error("poll tick failed", "err", err)
		}

		if ctx.Err() != nil {
			return s.drain(cancelJobs)
		}
		if claimed > 0 && err == nil {
			continue
		}

		timer := time.NewTimer(s.config.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return s.drain(cancelJobs)
		case <-timer.C:
		}
	}
}

// Tick runs one reap-then-claim pass and returns how many jobs it started.
// Started jobs run in the background; see Wait.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	return s.tick(ctx, ctx)
}

func (s *Scheduler) tick(ctx context.Context, jobCtx context.Context) (claimed int, err error) {
	holdingSlot := false
	defer func() {
		if recovered := recover(); recovered != nil {
			if holdingSlot {
				s.admission.Release()
			}
			err = fmt.Errorf("poll tick panicked: %v", recovered)
		}
	}()

	if _, reapErr := s.reaper.Reap(ctx); reapErr != nil && ctx.Err() == nil {
		s.metrics.TickErrors.Inc()
		s.logger.Error("reaper pass failed", "err", reapErr)
	}

	request := store.ClaimRequest{
		WorkerID:           s.id,
		MaxRunningPerOwner: s.admission.MaxRunningPerOwner(),
	}

	for claimed < s.config.ClaimBatchSize {
		if !s.admission.TryAcquire() {
			// At capacity; due jobs stay PENDING for this or another worker.
			break
		}
		holdingSlot = true

		result, err := s.claimer.ClaimNext(ctx, request)
		holdingSlot = false
		if err != nil {
			s.admission.Release()
			return claimed, fmt.Errorf("claim next job: %w", err)
		}

		if skipped := len(result.SkippedOwners); skipped > 0 {
			s.metrics.OwnerSkips.Add(float64(skipped))
			s.logger.Debug("owners at running-job cap skipped",
				"owners", result.SkippedOwners,
			)
		}
		if len(result.ContendedOwners) > 0 {
			s.logger.Debug("owners locked by another claimer passed over",
				"owners", result.ContendedOwners,
			)
		}

		if result.Job == nil {
			s.admission.Release()
			break
		}

		claimed++
		s.metrics.JobsClaimed.Inc()
		s.execute(jobCtx, result.Job)
	}

	return claimed, nil
}

func (s *Scheduler) execute(ctx context.Context, job *store.Job) {
	s.inFlight.Add(1)
	s.metrics.InFlight.Inc()

	go func() {
		defer s.inFlight.Done()
		defer s.admission.Release()
		defer s.metrics.InFlight.Dec()

		if err := s.dispatcher.Dispatch(ctx, job); err != nil {
			s.logger.Error("failed to record job outcome",
				"job_id", job.ID,
				"job_type", job.Type,
				"err", err,
			)
		}
	}()
}

func (s *Scheduler) drain(cancelJobs context.CancelFunc) error {
	s.logger.Info("scheduler stopping, waiting for in-flight jobs",
		"in_flight", s.admission.InFlight(),
	)

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.config.ShutdownGrace)
	defer timer.Stop()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-timer.C:
		cancelJobs()
		s.logger.Warn("shutdown grace expired, abandoning in-flight jobs",
			"in_flight", s.admission.InFlight(),
		)
		return nil
	}
}

// Package scheduler runs the poll loop of a worker process: reap stuck jobs,
// claim due jobs while execution slots are free, and hand them to the
// dispatcher.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vin-jex/job-engine/internal/admission"
	"github.com/vin-jex/job-engine/internal/observability"
	"github.com/vin-jex/job-engine/internal/store"
)

type Claimer interface {
	ClaimNext(ctx context.Context, request store.ClaimRequest) (store.ClaimResult, error)
}

type Reaper interface {
	Reap(ctx context.Context) (int, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, job *store.Job) error
}

type Config struct {
	PollInterval   time.Duration
	ClaimBatchSize int

	// ShutdownGrace bounds how long Run waits for in-flight jobs after its
	// context is cancelled.
	ShutdownGrace time.Duration
}

type Scheduler struct {
	id         uuid.UUID
	claimer    Claimer
	reaper     Reaper
	dispatcher Dispatcher
	admission  *admission.Controller
	config     Config
	logger     *slog.Logger
	metrics    *observability.Metrics

	inFlight sync.WaitGroup
}

func New(
	id uuid.UUID,
	claimer Claimer,
	reaper Reaper,
	dispatcher Dispatcher,
	admissionController *admission.Controller,
	config Config,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.ClaimBatchSize <= 0 {
		config.ClaimBatchSize = 1
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = 30 * time.Second
	}

	return &Scheduler{
		id:         id,
		claimer:    claimer,
		reaper:     reaper,
		dispatcher: dispatcher,
		admission:  admissionController,
		config:     config,
		logger:     logger.With("worker_id", id),
		metrics:    metrics,
	}
}

func (s *Scheduler) ID() uuid.UUID {
	return s.id
}

// Wait blocks until every job started by Tick has reported.
func (s *Scheduler) Wait() {
	s.inFlight.Wait()
}

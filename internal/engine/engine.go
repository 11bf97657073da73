// Package engine wires the worker-side subsystems together: guarded calls,
// quota compensation, outcome handling, dispatch, reaping, admission and the
// poll loop. Binaries build one Engine and run its scheduler.
package engine

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/vin-jex/job-engine/internal/admission"
	"github.com/vin-jex/job-engine/internal/backoff"
	"github.com/vin-jex/job-engine/internal/chain"
	"github.com/vin-jex/job-engine/internal/config"
	"github.com/vin-jex/job-engine/internal/dispatch"
	"github.com/vin-jex/job-engine/internal/guard"
	"github.com/vin-jex/job-engine/internal/handlers/httpcall"
	"github.com/vin-jex/job-engine/internal/observability"
	"github.com/vin-jex/job-engine/internal/quota"
	"github.com/vin-jex/job-engine/internal/reaper"
	"github.com/vin-jex/job-engine/internal/retry"
	"github.com/vin-jex/job-engine/internal/scheduler"
	"github.com/vin-jex/job-engine/internal/store"
	"github.com/vin-jex/job-engine/internal/worker"
)

type Engine struct {
	Guard       *guard.Guard
	Registry    *dispatch.Registry
	Compensator *quota.Compensator
	Executor    *worker.Executor
	Dispatcher  *dispatch.Dispatcher
	Reaper      *reaper.Reaper
	Admission   *admission.Controller
	Scheduler   *scheduler.Scheduler
}

// Build assembles an Engine over storeLayer. Job handlers are registered by
// the register callbacks; the built-in HTTP call handler is always present.
func Build(
	workerID uuid.UUID,
	cfg config.Config,
	storeLayer *store.Store,
	logger *slog.Logger,
	metrics *observability.Metrics,
	register ...func(*dispatch.Registry, *guard.Guard),
) *Engine {
	g := guard.New(cfg.Guard(), logger.With("subsystem", "guard"), metrics.ObserveBreaker)

	registry := dispatch.NewRegistry()
	dispatch.Register(registry, httpcall.New(&http.Client{}, g, cfg.HTTPCallAuthToken).Definition())
	for _, fn := range register {
		fn(registry, g)
	}

	compensator := quota.NewCompensator(
		quota.NewPostgresLedger(storeLayer.Pool()),
		g,
		logger.With("subsystem", "quota"),
		metrics,
	)

	executor := worker.New(
		storeLayer,
		chain.NewChainer(registry, logger.With("subsystem", "chain")),
		retry.Policy{
			Backoff:       backoff.NewExponential(cfg.JobBackoffBase, cfg.JobBackoffMax),
			MaxAttempts:   cfg.JobMaxAttempts,
			OnConfigError: cfg.MissingCredentialsPolicy,
		},
		compensator,
		logger.With("subsystem", "executor"),
		metrics,
	)

	dispatcher := dispatch.NewDispatcher(
		registry,
		executor,
		cfg.JobMaxRuntime,
		logger.With("subsystem", "dispatch"),
		metrics,
	)

	jobReaper := reaper.New(
		storeLayer,
		compensator,
		reaper.Config{
			Timeout:     cfg.RunningJobTimeout,
			BatchSize:   cfg.ReaperBatchSize,
			MaxAttempts: cfg.JobMaxAttempts,
		},
		logger.With("subsystem", "reaper"),
		metrics,
	)

	controller := admission.NewController(cfg.MaxWorkerConcurrency, cfg.MaxRunningJobsPerOwner)

	loop := scheduler.New(
		workerID,
		storeLayer,
		jobReaper,
		dispatcher,
		controller,
		scheduler.Config{
			PollInterval:   cfg.PollInterval,
			ClaimBatchSize: cfg.ClaimBatchSize,
			ShutdownGrace:  cfg.ShutdownGrace,
		},
		logger.With("subsystem", "scheduler"),
		metrics,
	)

	return &Engine{
		Guard:       g,
		Registry:    registry,
		Compensator: compensator,
		Executor:    executor,
		Dispatcher:  dispatcher,
		Reaper:      jobReaper,
		Admission:   controller,
		Scheduler:   loop,
	}
}

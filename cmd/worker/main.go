// Worker is a long-running executor for jobs stored in PostgreSQL.
//
// Responsibilities:
//   - Recover jobs left RUNNING by crashed workers
//   - Claim due jobs within the process and per-owner limits
//   - Execute them through the registered handlers
//   - Record completion, re-queue with backoff, or fail and compensate quota
//
// Any number of workers may run against the same database.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/vin-jex/job-engine/internal/config"
	"github.com/vin-jex/job-engine/internal/engine"
	"github.com/vin-jex/job-engine/internal/observability"
	"github.com/vin-jex/job-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.RequireDatabase(); err != nil {
		log.Fatal(err)
	}

	observability.SetLevel(cfg.LogLevel)
	logger := observability.NewLogger("worker")
	workerID := uuid.New()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	shutdownTracer, err := observability.InitTracer(observability.TracingConfig{
		Enabled:     cfg.OTELEnabled,
		Service:     "job-engine-worker",
		InstanceID:  workerID.String(),
		Endpoint:    cfg.OTELEndpoint,
		SampleRatio: cfg.OTELSampleRatio,
	}, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	storeLayer, err := store.NewStore(ctx, cfg.DatabaseURL, store.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}
	defer storeLayer.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	built := engine.Build(workerID, cfg, storeLayer, logger, metrics)

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	metricsServer := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info("worker starting",
		"worker_id", workerID,
		"handlers", built.Registry.Types(),
		"metrics_addr", cfg.MetricsAddr,
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return built.Scheduler.Run(groupCtx)
	})

	group.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("worker stopped with error", "err", err)
		return
	}

	logger.Info("worker stopped")
}

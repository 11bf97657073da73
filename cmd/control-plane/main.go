package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/vin-jex/job-engine/internal/api"
	"github.com/vin-jex/job-engine/internal/config"
	"github.com/vin-jex/job-engine/internal/observability"
	"github.com/vin-jex/job-engine/internal/store"
)

// @title Job Engine Ops API
// @version 1.0
// @description Operational surface of the durable job engine: health, metrics, job submission and inspection.

// @contact.name Okereke Vincent
// @contact.url https://github.com/vin-jex

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @BasePath /
// @schemes http
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.RequireDatabase(); err != nil {
		log.Fatal(err)
	}

	observability.SetLevel(cfg.LogLevel)
	logger := observability.NewLogger("control-plane")

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	storeLayer, err := store.NewStore(ctx, cfg.DatabaseURL, store.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}
	defer storeLayer.Close()

	applied, err := storeLayer.Migrate(ctx)
	if err != nil {
		log.Fatal(err)
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", "files", applied)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	server := api.NewServer(storeLayer, logger, registry)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("control plane listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("control plane stopped with error", "err", err)
	}
}

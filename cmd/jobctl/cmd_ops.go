package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vin-jex/job-engine/internal/config"
	"github.com/vin-jex/job-engine/internal/engine"
	"github.com/vin-jex/job-engine/internal/observability"
	"github.com/vin-jex/job-engine/internal/quota"
	"github.com/vin-jex/job-engine/internal/store"
)

var (
	reapTimeout time.Duration
	quotaOwner  string
	quotaPeriod string
	quotaMetric string
	quotaAmount int64
	quotaLimit  int64
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Run one stuck-job recovery pass",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, cfg config.Config, storeLayer *store.Store) error {
			if reapTimeout > 0 {
				cfg.RunningJobTimeout = reapTimeout
			}

			metrics := observability.NewMetrics(prometheus.NewRegistry())
			built := engine.Build(uuid.New(), cfg, storeLayer, observability.NewLogger("jobctl"), metrics)

			count, err := built.Reaper.Reap(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Reaped %d job(s) stuck longer than %s\n", count, cfg.RunningJobTimeout)
			return nil
		})
	},
}

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect and adjust quota usage",
}

var quotaUsageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show usage for an owner, period and metric",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, _ config.Config, storeLayer *store.Store) error {
			usage, err := quota.NewPostgresLedger(storeLayer.Pool()).Usage(ctx, quotaOwner, quotaPeriod, quotaMetric)
			if err != nil {
				return err
			}
			return printJSON(usage)
		})
	},
}

var quotaReserveCmd = &cobra.Command{
	Use:   "reserve",
	Short: "Reserve usage under a limit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, _ config.Config, storeLayer *store.Store) error {
			usage, err := quota.NewPostgresLedger(storeLayer.Pool()).
				Reserve(ctx, quotaOwner, quotaPeriod, quotaMetric, quotaAmount, quotaLimit)
			if err != nil {
				return err
			}
			return printJSON(usage)
		})
	},
}

var quotaRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Hand back reserved usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, _ config.Config, storeLayer *store.Store) error {
			err := quota.NewPostgresLedger(storeLayer.Pool()).
				RollbackQuota(ctx, quotaOwner, quotaPeriod, quotaMetric, quotaAmount)
			if err != nil {
				return err
			}
			fmt.Println("Quota rolled back")
			return nil
		})
	},
}

func init() {
	reapCmd.Flags().DurationVar(&reapTimeout, "timeout", 0, "Override RUNNING_JOB_TIMEOUT for this pass")

	for _, cmd := range []*cobra.Command{quotaUsageCmd, quotaReserveCmd, quotaRollbackCmd} {
		cmd.Flags().StringVar(&quotaOwner, "owner", "", "Owner id")
		cmd.Flags().StringVar(&quotaPeriod, "period", "", "Period key, e.g. 2026-10")
		cmd.Flags().StringVar(&quotaMetric, "metric", "", "Metric name")
		_ = cmd.MarkFlagRequired("owner")
		_ = cmd.MarkFlagRequired("metric")
	}
	for _, cmd := range []*cobra.Command{quotaReserveCmd, quotaRollbackCmd} {
		cmd.Flags().Int64Var(&quotaAmount, "amount", 1, "Amount")
	}
	quotaReserveCmd.Flags().Int64Var(&quotaLimit, "limit", 0, "Limit for the period; 0 means unlimited")

	quotaCmd.AddCommand(quotaUsageCmd, quotaReserveCmd, quotaRollbackCmd)
}

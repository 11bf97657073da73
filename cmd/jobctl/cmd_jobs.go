package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vin-jex/job-engine/internal/config"
	"github.com/vin-jex/job-engine/internal/store"
)

var (
	enqOwner     string
	enqProject   string
	enqKey       string
	enqChain     []string
	enqDependsOn string
	listStatus   string
	listOwner    string
	listLimit    int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, _ config.Config, storeLayer *store.Store) error {
			applied, err := storeLayer.Migrate(ctx)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Println("Schema up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Printf("Applied %s\n", name)
			}
			return nil
		})
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <type> [payload]",
	Short: "Submit a job",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		newJob := store.NewJob{
			Type:           args[0],
			OwnerID:        enqOwner,
			ProjectRef:     enqProject,
			IdempotencyKey: enqKey,
		}
		if len(args) == 2 {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("payload is not valid JSON")
			}
			newJob.Payload = json.RawMessage(args[1])
		}
		if len(enqChain) > 0 && enqKey == "" {
			return fmt.Errorf("--chain requires --key")
		}
		for i := len(enqChain) - 1; i >= 0; i-- {
			newJob.Meta.ChainNext = &store.ChainNext{Type: enqChain[i], Next: newJob.Meta.ChainNext}
		}
		if enqDependsOn != "" {
			parent, err := uuid.Parse(enqDependsOn)
			if err != nil {
				return fmt.Errorf("--depends-on: %w", err)
			}
			newJob.Meta.DependsOnJobID = &parent
		}

		return withStore(func(ctx context.Context, _ config.Config, storeLayer *store.Store) error {
			job, created, err := storeLayer.CreateJob(ctx, newJob)
			if err != nil {
				return err
			}
			if created {
				fmt.Printf("Job enqueued: %s (status: %s)\n", job.ID, job.Status)
			} else {
				fmt.Printf("Job already exists: %s (status: %s)\n", job.ID, job.Status)
			}
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <job-id|idempotency-key>",
	Short: "Show a job with its scheduler metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, _ config.Config, storeLayer *store.Store) error {
			var (
				job *store.Job
				err error
			)
			if jobID, parseErr := uuid.Parse(args[0]); parseErr == nil {
				job, err = storeLayer.GetJob(ctx, jobID)
			} else {
				job, err = storeLayer.GetJobByIdempotencyKey(ctx, args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(job)
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, _ config.Config, storeLayer *store.Store) error {
			jobs, err := storeLayer.ListJobs(ctx, store.ListFilter{
				Status:  listStatus,
				OwnerID: listOwner,
				Limit:   listLimit,
			})
			if err != nil {
				return err
			}
			for _, job := range jobs {
				fmt.Printf("%s  %-9s  %-16s  attempts=%d  owner=%s\n",
					job.ID, job.Status, job.Type, job.Meta.Attempts, job.OwnerID)
			}
			return nil
		})
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqOwner, "owner", "", "Owner id (required)")
	enqueueCmd.Flags().StringVar(&enqProject, "project", "", "Project reference")
	enqueueCmd.Flags().StringVar(&enqKey, "key", "", "Idempotency key")
	enqueueCmd.Flags().StringSliceVar(&enqChain, "chain", nil, "Job types to run after this one, in order")
	enqueueCmd.Flags().StringVar(&enqDependsOn, "depends-on", "", "Job id that must complete first")
	_ = enqueueCmd.MarkFlagRequired("owner")

	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status")
	listCmd.Flags().StringVar(&listOwner, "owner", "", "Filter by owner")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum number of jobs")
}

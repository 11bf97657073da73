// Jobctl is the operator CLI: it applies migrations, submits and inspects
// jobs, runs a one-off reaper pass and manages quota usage, all directly
// against the job store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vin-jex/job-engine/internal/config"
	"github.com/vin-jex/job-engine/internal/observability"
	"github.com/vin-jex/job-engine/internal/store"
)

var (
	envFile  string
	logLevel string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "jobctl",
	Short:         "Operate the durable job engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.SetLevel(logLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional .env file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(migrateCmd, enqueueCmd, getCmd, listCmd, reapCmd, quotaCmd)
}

// withStore loads configuration, opens the store and runs fn with a context
// cancelled on SIGINT or SIGTERM.
func withStore(fn func(ctx context.Context, cfg config.Config, storeLayer *store.Store) error) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storeLayer, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer storeLayer.Close()

	return fn(ctx, cfg, storeLayer)
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

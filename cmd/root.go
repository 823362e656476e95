// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/licitabr/pncp-harvester/internal/app"
	"github.com/licitabr/pncp-harvester/internal/config"
)

var cfgFile string

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can
// replace it with a fake.
var newApp = func(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.New(ctx, cfg)
}

// newRootCmd creates and configures the root command. Subcommands pull
// the initialized application out of the command context.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Incremental harvester for PNCP procurement notices.",
		Long: `harvester collects public procurement notices from the PNCP consultation
API, keeps an idempotent raw copy in Postgres, refines it into a normalized
layer and emails clients whose keyword profiles match new notices.

Each stage is exposed as its own subcommand so cron can drive them
independently; 'pipeline' chains all four and 'serve' exposes the same
runs over HTTP.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			application, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, application))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if application, ok := cmd.Context().Value(appKey).(*app.App); ok && application != nil {
				application.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (overrides PNCP_* env vars)")

	cmd.AddCommand(
		newServeCmd(),
		newCrawlCmd(),
		newItemsCmd(),
		newTransformCmd(),
		newNotifyCmd(),
		newPipelineCmd(),
	)

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	application, ok := ctx.Value(appKey).(*app.App)
	if !ok || application == nil {
		return nil, errors.New("application services not initialized")
	}
	return application, nil
}

// runStage executes one harvest stage and prints its summary as JSON so
// cron logs capture the counts even when the stage fails midway.
func runStage[T any](cmd *cobra.Command, name string, run func(*app.App, context.Context) (T, error)) error {
	application, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	summary, runErr := run(application, cmd.Context())
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(summary); encErr != nil {
		application.Logger().Warn("encode summary failed", zap.Error(encErr))
	}
	if runErr != nil {
		return fmt.Errorf("%s: %w", name, runErr)
	}
	application.Logger().Info("stage finished", zap.String("stage", name))
	return nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

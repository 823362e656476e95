package cmd

import (
	"github.com/spf13/cobra"

	"github.com/licitabr/pncp-harvester/internal/app"
)

// newCrawlCmd creates the 'crawl' subcommand: one incremental pass over
// the PNCP publication feed for every configured category.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Fetches new notices from the PNCP publication feed",
		Long: `Walks the publication endpoint from each category's watermark (or the
lookback window on first run), upserting every notice into the raw layer
and advancing the watermark once a category completes cleanly.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage(cmd, "crawl", (*app.App).Crawl)
		},
	}
}

func newItemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "items",
		Short: "Collects line items for notices still pending",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage(cmd, "items", (*app.App).Items)
		},
	}
}

func newTransformCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transform",
		Short: "Refines raw payloads into the normalized layer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage(cmd, "transform", (*app.App).Transform)
		},
	}
}

func newNotifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notify",
		Short: "Matches notices against client profiles and sends alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage(cmd, "notify", (*app.App).Notify)
		},
	}
}

func newPipelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipeline",
		Short: "Runs crawl, items, transform and notify in sequence",
		Long: `Chains the four harvest stages, stopping at the first failure so a
later stage never runs against data an earlier one could not produce.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage(cmd, "pipeline", (*app.App).Pipeline)
		},
	}
}

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thebtf/photodedup/internal/worker"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest the next page of the library",
	Long: `Fetch the next page of photos, extract their neighbors and assign them
to similar sets. Does nothing until a first refresh has populated the store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(ctx context.Context, rt *worker.Runtime) error {
			report, err := rt.Pipeline.NextPage(ctx)
			if err != nil {
				return fmt.Errorf("ingest next page: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), report)
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Discard all sets and ingest the first page again",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(ctx context.Context, rt *worker.Runtime) error {
			report, err := rt.Pipeline.FreshFetch(ctx)
			if err != nil {
				return fmt.Errorf("refresh: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), report)
		})
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Regroup every stored photo from scratch",
	Long: `Regroup every stored photo in one pass. Sets that were kept stay hidden.
Photos split across hour boundaries by incremental ingestion are reunited.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(ctx context.Context, rt *worker.Runtime) error {
			rt.Maintenance.RunNow(ctx)
			stats := rt.Maintenance.Stats()
			if msg, ok := stats["last_error"]; ok {
				return fmt.Errorf("rebuild: %v", msg)
			}
			return printJSON(cmd.OutOrStdout(), stats["last_report"])
		})
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(rebuildCmd)
}

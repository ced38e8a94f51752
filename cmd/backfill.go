package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spyglass-project/spyglass-crawler/internal/backfill"
)

// newBackfillCmd creates the 'backfill' subcommand: repair missing comment
// dates for high-activity users, then exit.
func newBackfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Fill in missing comment dates for high-activity users",

		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			source, store := buildClients()
			job := backfill.New(store, source, rootConfig.Crawl.HistoryLimit, rootLogger.Named("backfill"))
			_, err := job.Run(ctx)
			return err
		},
	}
}

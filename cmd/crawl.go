package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newCrawlCmd creates the 'crawl' subcommand: one full traversal pass,
// suitable for an external scheduler that expects an exit code.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Run one full traversal pass and exit",
		Long: `Retrieves the watched subreddit list and walks boards, posts, comments,
and commenter histories exactly once. Per-item failures are degraded and
logged; only failure to retrieve the watched list yields a non-zero exit.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			engine := buildEngine()
			if _, err := engine.Run(ctx); err != nil {
				return fmt.Errorf("run traversal: %w", err)
			}
			return nil
		},
	}
}

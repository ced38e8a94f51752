// Package cmd defines and implements the CLI commands for the
// spyglass-crawler executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spyglass-project/spyglass-crawler/internal/config"
	"github.com/spyglass-project/spyglass-crawler/internal/crawl"
	"github.com/spyglass-project/spyglass-crawler/internal/gateway"
	"github.com/spyglass-project/spyglass-crawler/internal/logging"
	"github.com/spyglass-project/spyglass-crawler/internal/metrics"
	"github.com/spyglass-project/spyglass-crawler/internal/reddit"
)

var (
	cfgFile string

	rootConfig config.Config
	rootLogger *zap.Logger
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spyglass-crawler",
		Short: "Ingestion crawler for the spyglass subreddit analysis service.",
		Long: `spyglass-crawler walks the watched subreddits, follows every commenter's
full history, and persists the discovered boards, posts, comments, and users
through the spyglass API.`,

		SilenceUsage: true,

		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			// A .env file is optional; real deployments use the environment.
			_ = godotenv.Load()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			metrics.Init()

			rootConfig = cfg
			rootLogger = logger
			rootLogger.Info("configuration loaded",
				zap.String("mode", cfg.Mode),
				zap.String("gateway_url", cfg.GatewayBaseURL()),
			)
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if rootLogger != nil {
				_ = rootLogger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; env vars suffice)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newBackfillCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildClients() (*reddit.Client, *gateway.Client) {
	source := reddit.NewClient(reddit.Config{
		ClientID:          rootConfig.Reddit.ClientID,
		ClientSecret:      rootConfig.Reddit.ClientSecret,
		Username:          rootConfig.Reddit.Username,
		Password:          rootConfig.Reddit.Password,
		UserAgent:         rootConfig.Reddit.UserAgent,
		Timeout:           rootConfig.RedditTimeout(),
		RequestsPerSecond: rootConfig.Reddit.RequestsPerSecond,
		MaxRetries:        rootConfig.Reddit.MaxRetries,
	}, rootLogger.Named("reddit"))

	store := gateway.NewClient(gateway.Config{
		BaseURL:  rootConfig.GatewayBaseURL(),
		WriteKey: rootConfig.Gateway.WriteKey,
		Timeout:  rootConfig.GatewayTimeout(),
	}, rootLogger.Named("gateway"))

	return source, store
}

func buildEngine() *crawl.Engine {
	source, store := buildClients()
	return crawl.NewEngine(crawl.Config{
		BoardConcurrency:   rootConfig.Crawl.BoardConcurrency,
		PostConcurrency:    rootConfig.Crawl.PostConcurrency,
		CommentConcurrency: rootConfig.Crawl.CommentConcurrency,
		PostLimit:          rootConfig.Crawl.PostLimit,
		HotPostProbability: rootConfig.Crawl.HotPostProbability,
		MaxTreeComments:    rootConfig.Crawl.MaxTreeComments,
		MaxTreeDepth:       rootConfig.Crawl.MaxTreeDepth,
		HistoryLimit:       rootConfig.Crawl.HistoryLimit,
		WriteBatchSize:     rootConfig.Crawl.WriteBatchSize,
		ExcludedAuthors:    rootConfig.Crawl.ExcludedAuthors,
		BoardListTTL:       rootConfig.Crawl.BoardListTTL,
		UserHistoryTTL:     rootConfig.Crawl.UserHistoryTTL,
	}, source, store, rootLogger.Named("crawl"))
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spyglass-project/spyglass-crawler/internal/api"
)

// newServeCmd creates the 'serve' subcommand: recurring traversal runs on a
// cron schedule plus the ops HTTP server.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run traversals on a schedule with health and metrics endpoints",

		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			engine := buildEngine()

			// Overlap guard: a run that outlasts the schedule interval must
			// not be doubled up; the next tick is skipped instead.
			var running atomic.Bool
			runOnce := func() {
				if !running.CompareAndSwap(false, true) {
					rootLogger.Warn("previous run still in progress, skipping tick")
					return
				}
				defer running.Store(false)
				if _, err := engine.Run(ctx); err != nil {
					rootLogger.Error("scheduled run failed", zap.Error(err))
				}
			}

			scheduler := cron.New()
			if _, err := scheduler.AddFunc(rootConfig.Schedule.Spec, runOnce); err != nil {
				return fmt.Errorf("schedule %q: %w", rootConfig.Schedule.Spec, err)
			}
			scheduler.Start()
			rootLogger.Info("scheduler started", zap.String("spec", rootConfig.Schedule.Spec))

			if rootConfig.Schedule.RunAtStartup {
				go runOnce()
			}

			server := &http.Server{
				Addr:              fmt.Sprintf(":%d", rootConfig.Server.Port),
				Handler:           api.NewServer(rootLogger.Named("api")).Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			serveErr := make(chan error, 1)
			go func() {
				rootLogger.Info("ops server listening", zap.String("addr", server.Addr))
				serveErr <- server.ListenAndServe()
			}()

			select {
			case err := <-serveErr:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("ops server: %w", err)
				}
			case <-ctx.Done():
			}

			rootLogger.Info("shutting down")
			<-scheduler.Stop().Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("ops server shutdown: %w", err)
			}
			return nil
		},
	}
}

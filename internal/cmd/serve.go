package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/autotrade/tasktracker/internal/api"
	"github.com/autotrade/tasktracker/internal/job"
	"github.com/autotrade/tasktracker/internal/logging"
)

func newServeCmd(a *app) *cobra.Command {
	var tick time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local job service for development",
		Long: `Run an in-memory job service that simulates optimization and simulation
jobs. Jobs advance one step per --tick. Pass fail_at_progress and
fail_message params to make a job fail.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.NewJSON(a.cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Jobs outlive the request that submitted them and stop on shutdown.
			jobsCtx, cancelJobs := context.WithCancel(context.Background())
			store := job.NewStore()
			runner := job.NewRunner(store, tick, logger.Named("runner"))

			server := &http.Server{
				Addr:         a.cfg.Addr(),
				Handler:      api.NewRouter(jobsCtx, store, runner, logger.Named("http")),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Job service listening", zap.String("addr", server.Addr), zap.Duration("tick", tick))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				cancelJobs()
				runner.Wait()
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("Server shutdown error", zap.Error(err))
			}
			cancelJobs()
			runner.Wait()
			logger.Info("Server stopped")
			return nil
		},
	}

	cmd.Flags().Int("port", 0, "Listen port (overrides server.port)")
	_ = a.v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	cmd.Flags().DurationVar(&tick, "tick", 2*time.Second, "Time each simulated job step takes")
	return cmd
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(a.out, "tracker %s (commit %s, built %s)\n",
				versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
		},
	}
}

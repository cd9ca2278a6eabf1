package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-pipeline/internal/pipeline"
)

var workerInterval time.Duration

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background advance loop",
	Long:  "Periodically sweeps for pending and processing reports and advances each one. Safe to run alongside the API server; the per-report soft lock prevents duplicate pass submission.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		w := pipeline.NewWorker(env.Orch, workerInterval, cfg.Pipeline.MaxConcurrentReports)
		zap.L().Info("worker started",
			zap.Duration("interval", workerInterval),
			zap.Int("max_concurrent", cfg.Pipeline.MaxConcurrentReports))

		if err := w.Run(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}

func init() {
	workerCmd.Flags().DurationVar(&workerInterval, "interval", 10*time.Second, "sweep interval")
	rootCmd.AddCommand(workerCmd)
}

package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	jobtemporal "github.com/sells-group/lead-pipeline/internal/job/temporal"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run discovery jobs from the Temporal task queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context(), "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		tc, err := dialTemporal()
		if err != nil {
			return err
		}
		defer tc.Close()

		w := jobtemporal.NewWorker(tc, cfg.Temporal.TaskQueue, &jobtemporal.Activities{
			Jobs:   env.Store,
			Runner: env.Orchestrator,
		}, workerConcurrency)

		checker := monitoringChecker(env)
		go checker.Run(cmd.Context())

		zap.L().Info("temporal worker starting",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("task_queue", cfg.Temporal.TaskQueue),
			zap.Int("max_concurrent_jobs", workerConcurrency),
		)
		if err := w.Run(worker.InterruptCh()); err != nil {
			return eris.Wrap(err, "temporal worker")
		}
		return nil
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 4, "maximum jobs run at once")
	rootCmd.AddCommand(workerCmd)
}

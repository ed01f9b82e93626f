package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/api"
	"github.com/sells-group/lead-pipeline/internal/job"
	jobtemporal "github.com/sells-group/lead-pipeline/internal/job/temporal"
	"github.com/sells-group/lead-pipeline/internal/monitoring"
)

const shutdownTimeout = 30 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the discovery API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		// Jobs outlive the request that started them but stop with the process.
		jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
		defer cancelJobs()

		var (
			dispatcher job.Dispatcher
			local      *job.GoDispatcher
		)
		switch cfg.Pipeline.Dispatcher {
		case "temporal":
			tc, err := dialTemporal()
			if err != nil {
				return err
			}
			defer tc.Close()
			dispatcher = jobtemporal.NewDispatcher(tc, cfg.Temporal.TaskQueue)
			zap.L().Info("dispatching jobs to temporal", zap.String("task_queue", cfg.Temporal.TaskQueue))
		default:
			local = job.NewGoDispatcher(jobCtx, env.Orchestrator)
			dispatcher = local
		}

		checker := monitoringChecker(env)
		go checker.Run(ctx)

		srv := api.New(job.NewService(env.Store, dispatcher), env.Store, env.Breakers,
			api.WithCollector(monitoring.NewCollector(env.Store, env.Breakers), cfg.Monitoring.LookbackHours),
			api.WithMetricsReader(env.Reader),
			api.WithCORSOrigins(cfg.Server.CORSOrigins),
		)

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("starting server", zap.Int("port", cfg.Server.Port), zap.String("dispatcher", cfg.Pipeline.Dispatcher))
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				return eris.Wrap(err, "server listen")
			}
		}

		zap.L().Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
		if local != nil {
			if err := local.Shutdown(sctx); err != nil {
				zap.L().Warn("running jobs did not finish before shutdown", zap.Error(err))
			}
		}
		return nil
	},
}

func dialTemporal() (client.Client, error) {
	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return nil, eris.Wrap(err, "temporal: dial")
	}
	return tc, nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

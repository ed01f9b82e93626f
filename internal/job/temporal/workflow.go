// Package temporal runs discovery jobs as Temporal workflows so a job
// survives process restarts.
package temporal

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/job"
	"github.com/sells-group/lead-pipeline/internal/model"
)

// DefaultTaskQueue is used when none is configured.
const DefaultTaskQueue = "lead-discovery"

const (
	activityTimeout  = 30 * time.Minute
	activityAttempts = 3
)

// JobLoader reads a job by id.
type JobLoader interface {
	GetJob(ctx context.Context, id string) (*model.DiscoveryJob, error)
}

// Activities holds the dependencies of the discovery activity.
type Activities struct {
	Jobs   JobLoader
	Runner job.Runner
}

// RunDiscovery loads the job and runs it. Terminal jobs are skipped so a
// retried activity cannot redo finished work. A job that ran and failed is
// not retried.
func (a *Activities) RunDiscovery(ctx context.Context, jobID string) error {
	j, err := a.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrapf(err, "temporal: load job %s", jobID)
	}
	if j.Status.IsTerminal() {
		activity.GetLogger(ctx).Info("job already terminal", "job_id", jobID, "status", string(j.Status))
		return nil
	}

	final, err := a.Runner.Run(ctx, j)
	if err != nil && final != nil && final.Status == model.JobStatusFailed {
		return temporal.NewNonRetryableApplicationError(err.Error(), "JobFailed", nil)
	}
	return err
}

// DiscoveryWorkflow runs one job through the RunDiscovery activity.
func DiscoveryWorkflow(ctx workflow.Context, jobID string) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    activityAttempts,
		},
	})

	var a *Activities
	return workflow.ExecuteActivity(ctx, a.RunDiscovery, jobID).Get(ctx, nil)
}

// WorkflowID is the workflow id for a job.
func WorkflowID(jobID string) string { return "discovery-" + jobID }

// Dispatcher starts a DiscoveryWorkflow per job.
type Dispatcher struct {
	client    client.Client
	taskQueue string
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(c client.Client, taskQueue string) *Dispatcher {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &Dispatcher{client: c, taskQueue: taskQueue}
}

// Dispatch implements job.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, j *model.DiscoveryJob) error {
	run, err := d.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(j.ID),
		TaskQueue: d.taskQueue,
	}, DiscoveryWorkflow, j.ID)
	if err != nil {
		return eris.Wrapf(err, "temporal: start workflow for job %s", j.ID)
	}
	zap.L().Info("temporal: workflow started",
		zap.String("job_id", j.ID),
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
	)
	return nil
}

// NewWorker creates a worker serving the discovery workflow and activity.
func NewWorker(c client.Client, taskQueue string, acts *Activities, maxConcurrentJobs int) worker.Worker {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	w := worker.New(c, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: maxConcurrentJobs,
	})
	w.RegisterWorkflow(DiscoveryWorkflow)
	w.RegisterActivity(acts)
	return w
}

package job

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// ErrShuttingDown is returned by Dispatch after Shutdown has begun.
var ErrShuttingDown = eris.New("job: dispatcher shutting down")

// Dispatcher starts a job asynchronously.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *model.DiscoveryJob) error
}

// GoDispatcher runs each job in its own goroutine.
type GoDispatcher struct {
	runner Runner
	base   context.Context

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewGoDispatcher creates a GoDispatcher. Jobs run under base, not under the
// context of the request that dispatched them.
func NewGoDispatcher(base context.Context, runner Runner) *GoDispatcher {
	return &GoDispatcher{runner: runner, base: base}
}

// Dispatch implements Dispatcher.
func (d *GoDispatcher) Dispatch(_ context.Context, job *model.DiscoveryJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrShuttingDown
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.runner.Run(d.base, job); err != nil {
			zap.L().Warn("job: run finished with error", zap.String("job_id", job.ID), zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops accepting jobs and waits for running ones, or for ctx.
func (d *GoDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "job: shutdown")
	}
}

// SyncDispatcher runs the job before returning. Used by the run command.
type SyncDispatcher struct {
	Runner Runner
	// Last holds the terminal snapshot of the most recent job.
	Last *model.DiscoveryJob
}

// Dispatch implements Dispatcher. Job failure is recorded on the job, not
// returned.
func (d *SyncDispatcher) Dispatch(ctx context.Context, job *model.DiscoveryJob) error {
	final, err := d.Runner.Run(ctx, job)
	d.Last = final
	if err != nil && eris.Is(err, ErrTerminal) {
		return err
	}
	return nil
}

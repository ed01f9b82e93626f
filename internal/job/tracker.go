// Package job runs discovery jobs through their stages and records every
// state change.
package job

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/notify"
	"github.com/sells-group/lead-pipeline/internal/store"
)

var (
	// ErrTerminal is returned when mutating a completed or failed job.
	ErrTerminal = eris.New("job: job is terminal")
	// ErrInterrupted is recorded on a job that was already processing when
	// started again, e.g. after a worker restart. What it spent is unknown,
	// so it is failed rather than rerun.
	ErrInterrupted = eris.New("job: interrupted")
)

// Progress milestones.
const (
	ProgressDiscovering = 10
	ProgressScoring     = 30
	ProgressEnriching   = 50
	ProgressStoring     = 90
	ProgressCompleted   = 100

	enrichSpan = 35
)

// EnrichProgress returns the progress after done of total candidates.
func EnrichProgress(done, total int) int {
	if total <= 0 {
		return ProgressEnriching + enrichSpan
	}
	done = min(max(done, 0), total)
	return ProgressEnriching + done*enrichSpan/total
}

func stageProgress(stage model.JobStage) int {
	switch stage {
	case model.StageDiscovering:
		return ProgressDiscovering
	case model.StageScoring:
		return ProgressScoring
	case model.StageEnriching:
		return ProgressEnriching
	case model.StageStoring:
		return ProgressStoring
	default:
		return 0
	}
}

// Tracker owns the in-memory state of one running job. All mutations are
// persisted with an upsert and published to subscribers. It is safe for
// concurrent use.
type Tracker struct {
	mu     sync.Mutex
	job    model.DiscoveryJob
	writer store.JobWriter
	pub    notify.Publisher
	now    func() time.Time
	log    *zap.Logger
}

// NewTracker creates a Tracker over a copy of job. A nil pub disables
// publishing.
func NewTracker(job *model.DiscoveryJob, writer store.JobWriter, pub notify.Publisher) *Tracker {
	if pub == nil {
		pub = notify.Nop{}
	}
	return &Tracker{
		job:    *job,
		writer: writer,
		pub:    pub,
		now:    time.Now,
		log:    zap.L().With(zap.String("job_id", job.ID), zap.String("campaign_id", job.CampaignID)),
	}
}

// Snapshot returns a copy of the current job state.
func (t *Tracker) Snapshot() *model.DiscoveryJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	job := t.job
	return &job
}

// Start moves a pending job to processing/discovering. A job that is
// already processing was interrupted mid-run; Start fails it with
// ErrInterrupted and returns that error.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.job.Status == model.JobStatusProcessing {
		cause := eris.Wrapf(ErrInterrupted, "job: restarted during %s", t.job.Stage)
		if err := t.fail(ctx, cause); err != nil {
			return err
		}
		return cause
	}
	if err := t.transition(model.JobStatusProcessing); err != nil {
		return err
	}
	t.job.Stage = model.StageDiscovering
	t.job.Progress = max(t.job.Progress, ProgressDiscovering)
	if t.job.StartedAt == nil {
		started := t.now().UTC()
		t.job.StartedAt = &started
	}
	t.log.Info("job: started", zap.String("tier", t.job.Config.TierKey))
	t.persist(ctx)
	return nil
}

// Advance moves the job to a later stage and its milestone progress.
func (t *Tracker) Advance(ctx context.Context, stage model.JobStage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.job.Status.IsTerminal() {
		return ErrTerminal
	}
	if stage.Order() <= t.job.Stage.Order() {
		return eris.Errorf("job: cannot move from stage %q to %q", t.job.Stage, stage)
	}
	t.job.Stage = stage
	t.job.Progress = max(t.job.Progress, stageProgress(stage))
	t.log.Info("job: stage", zap.String("stage", string(stage)), zap.Int("progress", t.job.Progress))
	t.persist(ctx)
	return nil
}

// Progress raises the job's progress to pct. Lower values and values at or
// above completion are ignored.
func (t *Tracker) Progress(ctx context.Context, pct int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.job.Status.IsTerminal() {
		return ErrTerminal
	}
	if pct <= t.job.Progress || pct >= ProgressCompleted {
		return nil
	}
	t.job.Progress = pct
	t.persist(ctx)
	return nil
}

// Metrics applies fn to the job's metrics. The change is persisted with the
// next state update.
func (t *Tracker) Metrics(fn func(m *model.JobMetrics)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.job.Metrics)
}

// Complete builds the terminal job with results and hands it to save, which
// must persist it durably. The tracker only becomes completed when save
// succeeds.
func (t *Tracker) Complete(ctx context.Context, results []model.ScoredLead, save func(ctx context.Context, done *model.DiscoveryJob) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.check(model.JobStatusCompleted); err != nil {
		return err
	}
	done := t.job
	finished := t.now().UTC()
	done.Status = model.JobStatusCompleted
	done.Progress = ProgressCompleted
	done.Results = results
	done.Error = nil
	done.CompletedAt = &finished
	if done.StartedAt != nil {
		done.Metrics.ProcessingMillis = finished.Sub(*done.StartedAt).Milliseconds()
	}

	if err := save(ctx, &done); err != nil {
		return eris.Wrap(err, "job: save results")
	}
	t.job = done
	t.log.Info("job: completed",
		zap.Int("leads", len(results)),
		zap.Float64("total_cost", done.Metrics.TotalCost),
		zap.Int64("duration_ms", done.Metrics.ProcessingMillis),
	)
	t.publish(ctx)
	return nil
}

// Fail marks the job failed with cause. Results computed so far are
// discarded. A pending job is moved through processing first.
func (t *Tracker) Fail(ctx context.Context, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fail(ctx, cause)
}

func (t *Tracker) fail(ctx context.Context, cause error) error {
	if t.job.Status.IsTerminal() {
		return ErrTerminal
	}
	// The failure must be recorded even when the run context is done.
	ctx = context.WithoutCancel(ctx)

	if t.job.Status == model.JobStatusPending {
		if err := t.transition(model.JobStatusProcessing); err != nil {
			return err
		}
		t.persist(ctx)
	}
	if err := t.transition(model.JobStatusFailed); err != nil {
		return err
	}

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	finished := t.now().UTC()
	t.job.Results = nil
	t.job.Error = &msg
	t.job.CompletedAt = &finished
	if t.job.StartedAt != nil {
		t.job.Metrics.ProcessingMillis = finished.Sub(*t.job.StartedAt).Milliseconds()
	}
	t.log.Error("job: failed", zap.String("stage", string(t.job.Stage)), zap.Error(cause))

	if err := t.writer.UpdateJob(ctx, &t.job); err != nil {
		return eris.Wrap(err, "job: record failure")
	}
	t.publish(ctx)
	return nil
}

// check reports whether the job may move to next.
func (t *Tracker) check(next model.JobStatus) error {
	if t.job.Status.IsTerminal() {
		return ErrTerminal
	}
	if !t.job.Status.CanTransition(next) {
		return eris.Errorf("job: cannot move from status %q to %q", t.job.Status, next)
	}
	return nil
}

// transition sets the job status to next if the move is legal.
func (t *Tracker) transition(next model.JobStatus) error {
	if err := t.check(next); err != nil {
		return err
	}
	t.job.Status = next
	return nil
}

// persist upserts the current state. Progress writes are best effort.
func (t *Tracker) persist(ctx context.Context) {
	if err := t.writer.UpdateJob(ctx, &t.job); err != nil {
		t.log.Warn("job: failed to persist state",
			zap.String("stage", string(t.job.Stage)),
			zap.Int("progress", t.job.Progress),
			zap.Error(err),
		)
	}
	t.publish(ctx)
}

func (t *Tracker) publish(ctx context.Context) {
	if err := t.pub.Publish(ctx, &t.job); err != nil {
		t.log.Debug("job: publish failed", zap.Error(err))
	}
}

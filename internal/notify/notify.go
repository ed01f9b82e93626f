// Package notify publishes job snapshots to subscribers as they change.
package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// Publisher broadcasts job updates. Publishing is best effort; callers log
// and continue on error.
type Publisher interface {
	Publish(ctx context.Context, job *model.DiscoveryJob) error
}

// Update is the message sent for each job mutation.
type Update struct {
	JobID      string           `json:"job_id"`
	CampaignID string           `json:"campaign_id"`
	Status     model.JobStatus  `json:"status"`
	Stage      model.JobStage   `json:"current_stage,omitempty"`
	Progress   int              `json:"progress"`
	Metrics    model.JobMetrics `json:"metrics"`
	Error      *string          `json:"error,omitempty"`
}

// UpdateFor builds the message for job.
func UpdateFor(job *model.DiscoveryJob) Update {
	return Update{
		JobID:      job.ID,
		CampaignID: job.CampaignID,
		Status:     job.Status,
		Stage:      job.Stage,
		Progress:   job.Progress,
		Metrics:    job.Metrics,
		Error:      job.Error,
	}
}

// RedisPublisher publishes updates on "<prefix>:<job id>" channels.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisPublisher creates a RedisPublisher.
func NewRedisPublisher(client redis.UniversalClient, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "discovery_jobs"
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the channel name for a job.
func (p *RedisPublisher) Channel(jobID string) string {
	return p.prefix + ":" + jobID
}

// Publish sends the job's current state.
func (p *RedisPublisher) Publish(ctx context.Context, job *model.DiscoveryJob) error {
	payload, err := json.Marshal(UpdateFor(job))
	if err != nil {
		return eris.Wrap(err, "notify: marshal update")
	}
	if err := p.client.Publish(ctx, p.Channel(job.ID), payload).Err(); err != nil {
		return eris.Wrapf(err, "notify: publish job %s", job.ID)
	}
	return nil
}

// Nop discards updates.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, *model.DiscoveryJob) error { return nil }

// Recorder keeps every update in memory. It backs the CLI run command's
// progress output and tests.
type Recorder struct {
	mu      sync.Mutex
	updates []Update
	onShow  func(Update)
}

// NewRecorder creates a Recorder. fn, when non-nil, is called with each
// update after it is stored.
func NewRecorder(fn func(Update)) *Recorder {
	return &Recorder{onShow: fn}
}

// Publish stores the update.
func (r *Recorder) Publish(_ context.Context, job *model.DiscoveryJob) error {
	u := UpdateFor(job)
	r.mu.Lock()
	r.updates = append(r.updates, u)
	fn := r.onShow
	r.mu.Unlock()
	if fn != nil {
		fn(u)
	}
	return nil
}

// Updates returns a copy of the recorded updates.
func (r *Recorder) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

// Multi fans an update out to several publishers and returns the first
// error.
type Multi []Publisher

// Publish sends to every publisher.
func (m Multi) Publish(ctx context.Context, job *model.DiscoveryJob) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, job); err != nil && first == nil {
			first = err
		}
	}
	return first
}

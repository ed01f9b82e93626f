// Package store persists discovery jobs, campaigns and leads.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = eris.New("store: not found")

const defaultListLimit = 100

// JobWriter persists job state. UpdateJob is an idempotent upsert of the
// job's mutable columns.
type JobWriter interface {
	UpdateJob(ctx context.Context, job *model.DiscoveryJob) error
}

// Store defines the persistence interface for the discovery pipeline.
type Store interface {
	JobWriter

	// Jobs
	CreateJob(ctx context.Context, job *model.DiscoveryJob) error
	GetJob(ctx context.Context, id string) (*model.DiscoveryJob, error)
	ListJobs(ctx context.Context, filter model.JobFilter) ([]model.DiscoveryJob, error)
	JobStats(ctx context.Context, since time.Time) (*model.JobStats, error)

	// Results
	SaveResults(ctx context.Context, job *model.DiscoveryJob, campaign *model.Campaign, leads []model.ScoredLead) error
	ListLeads(ctx context.Context, campaignID string) ([]model.ScoredLead, error)
	ReusableLeads(ctx context.Context, campaignHash string, limit int) ([]model.ScoredLead, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

func errorText(job *model.DiscoveryJob) any {
	if job.Error == nil {
		return nil
	}
	return *job.Error
}

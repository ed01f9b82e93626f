package api

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/lead-pipeline/internal/job"
	"github.com/sells-group/lead-pipeline/internal/model"
)

type mockSubmitter struct {
	mock.Mock
}

func (m *mockSubmitter) Submit(ctx context.Context, req job.Request) (*job.Accepted, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Accepted), args.Error(1)
}

type mockJobs struct {
	mock.Mock
}

func (m *mockJobs) GetJob(ctx context.Context, id string) (*model.DiscoveryJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DiscoveryJob), args.Error(1)
}

func (m *mockJobs) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.DiscoveryJob, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DiscoveryJob), args.Error(1)
}

func (m *mockJobs) ListLeads(ctx context.Context, campaignID string) ([]model.ScoredLead, error) {
	args := m.Called(ctx, campaignID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ScoredLead), args.Error(1)
}

func (m *mockJobs) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockJobs) JobStats(ctx context.Context, since time.Time) (*model.JobStats, error) {
	args := m.Called(ctx, since)
	return args.Get(0).(*model.JobStats), args.Error(1)
}

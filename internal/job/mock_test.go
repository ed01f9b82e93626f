package job

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/lead-pipeline/internal/density"
	"github.com/sells-group/lead-pipeline/internal/discovery"
	"github.com/sells-group/lead-pipeline/internal/enrich"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/tier"
	"github.com/sells-group/lead-pipeline/internal/waterfall"
)

// --- Store fake ---

// memStore records every job write. It mirrors the database rule that
// terminal rows are never updated.
type memStore struct {
	mu       sync.Mutex
	jobs     map[string]model.DiscoveryJob
	updates  []model.DiscoveryJob
	campaign *model.Campaign
	leads    []model.ScoredLead

	updateErr error
	saveErr   error
	createErr error
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]model.DiscoveryJob)}
}

func (s *memStore) CreateJob(_ context.Context, job *model.DiscoveryJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *memStore) UpdateJob(_ context.Context, job *model.DiscoveryJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	if cur, ok := s.jobs[job.ID]; ok && cur.Status.IsTerminal() {
		return nil
	}
	s.jobs[job.ID] = *job
	s.updates = append(s.updates, *job)
	return nil
}

func (s *memStore) SaveResults(_ context.Context, job *model.DiscoveryJob, campaign *model.Campaign, leads []model.ScoredLead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.campaign = campaign
	s.leads = append([]model.ScoredLead(nil), leads...)
	s.jobs[job.ID] = *job
	s.updates = append(s.updates, *job)
	return nil
}

func (s *memStore) job(id string) model.DiscoveryJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

func (s *memStore) progress() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.updates))
	for i, u := range s.updates {
		out[i] = u.Progress
	}
	return out
}

func (s *memStore) statuses() []model.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.JobStatus, len(s.updates))
	for i, u := range s.updates {
		out[i] = u.Status
	}
	return out
}

// --- Discoverer mock ---

type mockDiscoverer struct {
	mock.Mock
}

func (m *mockDiscoverer) Discover(ctx context.Context, q discovery.Query, maxResults int, b waterfall.Budget) (*discovery.Result, error) {
	args := m.Called(ctx, q, maxResults, b)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*discovery.Result), args.Error(1)
}

// --- Enricher fake ---

type enrichFunc func(ctx context.Context, lead model.ScoredLead, f tier.Features, b waterfall.Budget) enrich.Result

func (fn enrichFunc) Enrich(ctx context.Context, lead model.ScoredLead, f tier.Features, b waterfall.Budget) enrich.Result {
	return fn(ctx, lead, f, b)
}

// --- Density fake ---

type fixedDensity struct {
	mult  float64
	score float64
}

func (d fixedDensity) Lookup(context.Context, string, string) density.Result {
	return density.Result{Available: true, Multiplier: d.mult, Score: d.score}
}

// --- Runner fake ---

type runnerFunc func(ctx context.Context, job *model.DiscoveryJob) (*model.DiscoveryJob, error)

func (fn runnerFunc) Run(ctx context.Context, job *model.DiscoveryJob) (*model.DiscoveryJob, error) {
	return fn(ctx, job)
}

// --- Observer fake ---

type recordingObserver struct {
	mu   sync.Mutex
	jobs []model.DiscoveryJob
}

func (o *recordingObserver) JobFinished(_ context.Context, job *model.DiscoveryJob) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobs = append(o.jobs, *job)
}

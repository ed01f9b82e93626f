package job

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/discovery"
	"github.com/sells-group/lead-pipeline/internal/enrich"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/scorer"
	"github.com/sells-group/lead-pipeline/internal/tier"
	"github.com/sells-group/lead-pipeline/internal/waterfall"
)

func listing(name string, rating float64) model.DiscoveredRecord {
	return model.DiscoveredRecord{
		Name:    name,
		Address: name + " Street 1",
		Phone:   "555-0100",
		Website: "https://" + name + ".example.com",
		Rating:  rating,
		Source:  model.SourceGooglePlaces,
	}
}

// twelveListings collapses to seven businesses; two score below 50.
func twelveListings() []model.DiscoveredRecord {
	a := listing("alpha", 4.5)
	b := listing("bravo", 0)
	c := model.DiscoveredRecord{Name: "Charlie", Address: "3 St", Phone: "555", Source: model.SourceGooglePlaces}
	d := listing("delta", 3)
	e := listing("echo", 1)
	f := model.DiscoveredRecord{Name: "Foxtrot", Address: "6 St", Source: model.SourceGooglePlaces}
	g := model.DiscoveredRecord{Name: "Golf", Address: "7 St", Source: model.SourceGooglePlaces}
	return []model.DiscoveredRecord{a, b, c, a, d, b, e, f, a, c, g, b}
}

func discovered(records []model.DiscoveredRecord) *discovery.Result {
	return &discovery.Result{
		Records: records,
		Outcome: waterfall.Outcome[model.DiscoveredRecord]{
			Items:       records,
			StopReason:  waterfall.StopExhausted,
			SourcesUsed: []string{model.SourceGooglePlaces},
		},
	}
}

// spendingEnricher charges cost to hunter per lead and marks its email
// unconfirmed.
func spendingEnricher(cost float64) enrichFunc {
	return func(_ context.Context, lead model.ScoredLead, _ tier.Features, b waterfall.Budget) enrich.Result {
		res := enrich.Result{CostBySource: map[string]float64{}, Skipped: map[string]int{}}
		if h, ok := b.Hold(cost); ok {
			b.Settle(h, model.SourceHunter, cost)
			res.CostBySource[model.SourceHunter] = cost
			res.SourcesUsed = []string{model.SourceHunter}
		} else {
			res.Skipped[waterfall.SkipBudget]++
		}
		lead.Enhancement.EmailStatus = model.EmailUnconfirmed
		lead.Enhancement.CandidateEmail = "info@" + lead.BusinessName + ".example.com"
		res.Lead = lead
		return res
	}
}

func newTestOrchestrator(st *memStore, d Discoverer, e Enricher, opts ...Option) *Orchestrator {
	return NewOrchestrator(st, d, scorer.New(scorer.DefaultScorerConfig()), e, opts...)
}

func TestOrchestrator_Scenario(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything,
		discovery.Query{BusinessType: "plumber", Location: "Austin, TX"},
		5, mock.AnythingOfType("*budget.SharedAccount"),
	).Return(discovered(twelveListings()), nil)
	obs := &recordingObserver{}

	o := newTestOrchestrator(st, d, spendingEnricher(0.03), WithObserver(obs))
	job := pendingJob("scenario")
	require.NoError(t, st.CreateJob(ctx, job))

	final, err := o.Run(ctx, job)
	require.NoError(t, err)
	d.AssertExpectations(t)

	assert.Equal(t, model.JobStatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.Nil(t, final.Error)

	require.Len(t, st.leads, 5)
	var names []string
	for _, l := range st.leads {
		names = append(names, l.BusinessName)
		assert.GreaterOrEqual(t, l.OptimizedScore, 50)
		assert.Equal(t, LeadID(job.CampaignID, l.DedupKey), l.ID)
		assert.Equal(t, model.EmailUnconfirmed, l.Enhancement.EmailStatus)
		assert.Nil(t, l.Email)
	}
	assert.Equal(t, []string{"alpha", "delta", "echo", "bravo", "Charlie"}, names)

	m := final.Metrics
	assert.Equal(t, 12, m.RawRecords)
	assert.Equal(t, 7, m.UniqueRecords)
	assert.Equal(t, 5, m.QualifiedLeads)
	assert.Equal(t, 5, m.EnrichedLeads)
	assert.InDelta(t, 0.15, m.TotalCost, 1e-9)
	assert.InDelta(t, 0.15, m.CostBySource[model.SourceHunter], 1e-9)
	assert.Equal(t, []string{model.SourceGooglePlaces, model.SourceHunter}, m.SourcesUsed)

	require.NotNil(t, st.campaign)
	assert.Equal(t, job.CampaignID, st.campaign.ID)
	assert.Equal(t, 5, st.campaign.TotalLeads)
	assert.Equal(t, "plumber in Austin, TX", st.campaign.Name)

	progress := st.progress()
	assert.True(t, sort.IntsAreSorted(progress), "progress %v", progress)
	assert.Equal(t, 100, progress[len(progress)-1])

	require.Len(t, obs.jobs, 1)
	assert.Equal(t, model.JobStatusCompleted, obs.jobs[0].Status)
}

func TestOrchestrator_DiscoveryFailureFailsJob(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, discovery.ErrNoResults)
	obs := &recordingObserver{}

	o := newTestOrchestrator(st, d, spendingEnricher(0.03), WithObserver(obs))
	final, err := o.Run(ctx, pendingJob("nothing"))

	require.Error(t, err)
	assert.ErrorIs(t, err, discovery.ErrNoResults)
	assert.Equal(t, model.JobStatusFailed, final.Status)
	require.NotNil(t, final.Error)
	assert.Contains(t, *final.Error, "no businesses found")

	stored := st.job("nothing")
	assert.Equal(t, model.JobStatusFailed, stored.Status)
	assert.Nil(t, st.campaign)
	assert.Empty(t, st.leads)
	require.Len(t, obs.jobs, 1)
}

func TestOrchestrator_CandidateFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(discovered(twelveListings()), nil)

	base := spendingEnricher(0.03)
	e := enrichFunc(func(ctx context.Context, lead model.ScoredLead, f tier.Features, b waterfall.Budget) enrich.Result {
		switch lead.BusinessName {
		case "delta":
			panic("vendor returned garbage")
		case "echo":
			<-ctx.Done()
		}
		return base(ctx, lead, f, b)
	})

	o := newTestOrchestrator(st, d, e, WithCandidateTimeout(50*time.Millisecond))
	final, err := o.Run(ctx, pendingJob("isolated"))
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusCompleted, final.Status)
	require.Len(t, st.leads, 5)
	assert.Equal(t, 2, final.Metrics.FailedEnrichment)
	assert.Equal(t, 3, final.Metrics.EnrichedLeads)

	for _, l := range st.leads {
		switch l.BusinessName {
		case "delta", "echo":
			assert.NotEmpty(t, l.Enhancement.EnrichmentError)
			assert.Equal(t, model.EmailNotFound, l.Enhancement.EmailStatus)
			assert.Empty(t, l.Enhancement.CostBreakdown)
		default:
			assert.Empty(t, l.Enhancement.EnrichmentError)
		}
	}
	assert.Equal(t, 92, leadScore(st.leads, "delta"), "failed candidates keep their score")
}

func leadScore(leads []model.ScoredLead, name string) int {
	for _, l := range leads {
		if l.BusinessName == name {
			return l.OptimizedScore
		}
	}
	return -1
}

func TestOrchestrator_SaveFailureFailsJob(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	st.saveErr = assert.AnError
	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(discovered(twelveListings()), nil)

	o := newTestOrchestrator(st, d, spendingEnricher(0.03))
	final, err := o.Run(ctx, pendingJob("unsaved"))

	require.Error(t, err)
	assert.Equal(t, model.JobStatusFailed, final.Status)
	assert.Empty(t, final.Results)
	assert.Less(t, final.Progress, 100)
	assert.Equal(t, model.JobStatusFailed, st.job("unsaved").Status)
}

func TestOrchestrator_JobBudgetNeverExceeded(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(discovered(twelveListings()), nil)

	job := pendingJob("tight")
	job.Config.BudgetLimit = 0.05

	o := newTestOrchestrator(st, d, spendingEnricher(0.03))
	final, err := o.Run(ctx, job)
	require.NoError(t, err)

	assert.InDelta(t, 0.03, final.Metrics.TotalCost, 1e-9)
	assert.LessOrEqual(t, final.Metrics.TotalCost, job.Config.BudgetLimit)
	assert.Equal(t, 4, final.Metrics.SkippedProviders[waterfall.SkipBudget])
	assert.Len(t, st.leads, 5, "budget exhaustion is not a failure")
}

func TestOrchestrator_CandidateCeiling(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(discovered(twelveListings()), nil)

	twice := enrichFunc(func(_ context.Context, lead model.ScoredLead, _ tier.Features, b waterfall.Budget) enrich.Result {
		for range 2 {
			if h, ok := b.Hold(0.4); ok {
				b.Settle(h, model.SourcePDL, 0.4)
			}
		}
		return enrich.Result{Lead: lead}
	})

	job := pendingJob("ceiling")
	job.Config.BudgetLimit = 10

	o := newTestOrchestrator(st, d, twice)
	final, err := o.Run(ctx, job)
	require.NoError(t, err)

	// BASE caps each candidate at 0.50, so only one 0.40 charge fits.
	assert.InDelta(t, 2.0, final.Metrics.TotalCost, 1e-9)
}

func TestOrchestrator_DensityCanDisqualifyEverything(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(discovered(twelveListings()), nil)

	o := newTestOrchestrator(st, d, spendingEnricher(0.03), WithDensity(fixedDensity{mult: 0.5, score: 0.2}))
	final, err := o.Run(ctx, pendingJob("sparse"))
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusCompleted, final.Status)
	assert.Empty(t, st.leads)
	assert.Zero(t, final.Metrics.QualifiedLeads)
	assert.InDelta(t, 0.2, final.Metrics.DensityScore, 1e-9)
	assert.Equal(t, 100, final.Progress)
}

func TestOrchestrator_TerminalJobIsNotRerun(t *testing.T) {
	d := &mockDiscoverer{}
	job := pendingJob("done")
	job.Status = model.JobStatusCompleted

	o := newTestOrchestrator(newMemStore(), d, spendingEnricher(0.03))
	_, err := o.Run(context.Background(), job)

	assert.ErrorIs(t, err, ErrTerminal)
	d.AssertNotCalled(t, "Discover", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLeadID(t *testing.T) {
	campaign := "6f1c1f8e-9d7a-4c43-9a38-0f0b2f3c9d11"
	a := LeadID(campaign, "acme plumbing_1 main st")

	assert.Equal(t, a, LeadID(campaign, "acme plumbing_1 main st"))
	assert.NotEqual(t, a, LeadID(campaign, "best pipes_9 oak ave"))
	assert.NotEqual(t, a, LeadID("7a2d0c55-2f7e-4b8e-8f57-2c7f1c0a6e42", "acme plumbing_1 main st"))
	assert.NotEmpty(t, LeadID("not-a-uuid", "x"))
}

func TestOrchestrator_InterruptedJobFailsWithoutRerun(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	d := &mockDiscoverer{}
	obs := &recordingObserver{}
	job := pendingJob("stale")
	job.Status = model.JobStatusProcessing
	job.Stage = model.StageEnriching
	job.Progress = 57
	require.NoError(t, st.CreateJob(ctx, job))

	o := newTestOrchestrator(st, d, spendingEnricher(0.03), WithObserver(obs))
	final, err := o.Run(ctx, job)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, model.JobStatusFailed, final.Status)
	assert.Equal(t, model.JobStatusFailed, st.job("stale").Status)
	d.AssertNotCalled(t, "Discover", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	require.Len(t, obs.jobs, 1)
	assert.Equal(t, model.JobStatusFailed, obs.jobs[0].Status)
}

func TestOrchestrator_ReusesCampaignLeads(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	reused := listing("alpha", 4.5)
	reused.Source = model.SourceCachedReuse
	reused.Sources = []string{model.SourceCachedReuse, model.SourceGooglePlaces}
	res := discovered([]model.DiscoveredRecord{reused, listing("delta", 3)})
	res.Passes = 2

	d := &mockDiscoverer{}
	d.On("Discover", mock.Anything,
		discovery.Query{BusinessType: "plumber", Location: "Austin, TX", CampaignHash: "hash-a"},
		5, mock.Anything,
	).Return(res, nil)

	job := pendingJob("reuse")
	job.Config.CampaignHash = "hash-a"
	require.NoError(t, st.CreateJob(ctx, job))

	final, err := newTestOrchestrator(st, d, spendingEnricher(0.03)).Run(ctx, job)
	require.NoError(t, err)
	d.AssertExpectations(t)

	assert.Equal(t, 1, final.Metrics.ReusedLeads)
	assert.Equal(t, 2, final.Metrics.DiscoveryPasses)
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testJob(id string) *model.DiscoveryJob {
	return &model.DiscoveryJob{
		ID:         id,
		CampaignID: "camp-" + id,
		Status:     model.JobStatusPending,
		Config: model.JobConfig{
			BusinessType:       "plumber",
			Location:           "Austin, TX",
			Keywords:           []string{"emergency"},
			MaxResults:         5,
			BudgetLimit:        7.5,
			MinConfidenceScore: 50,
			TierKey:            "BASE",
			RequestHash:        "req-" + id,
		},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func ptr[T any](v T) *T { return &v }

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetJob", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job := testJob("j1")
		require.NoError(t, s.CreateJob(ctx, job))

		got, err := s.GetJob(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, job.CampaignID, got.CampaignID)
		assert.Equal(t, model.JobStatusPending, got.Status)
		assert.Equal(t, job.Config, got.Config)
		assert.Nil(t, got.StartedAt)
		assert.Nil(t, got.Error)
		assert.WithinDuration(t, job.CreatedAt, got.CreatedAt, time.Second)
	})

	t.Run("GetJobNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetJob(context.Background(), "missing")
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrNotFound))
	})

	t.Run("UpdateJobUpserts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job := testJob("j2")
		require.NoError(t, s.UpdateJob(ctx, job), "unknown jobs are inserted")

		started := time.Now().UTC()
		job.Status = model.JobStatusProcessing
		job.Stage = model.StageScoring
		job.Progress = 30
		job.StartedAt = &started
		job.Metrics.RawRecords = 12
		require.NoError(t, s.UpdateJob(ctx, job))

		got, err := s.GetJob(ctx, "j2")
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, got.Status)
		assert.Equal(t, model.StageScoring, got.Stage)
		assert.Equal(t, 30, got.Progress)
		assert.Equal(t, 12, got.Metrics.RawRecords)
		require.NotNil(t, got.StartedAt)
	})

	t.Run("TerminalJobsAreFrozen", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job := testJob("j3")
		require.NoError(t, s.CreateJob(ctx, job))
		job.Status = model.JobStatusFailed
		job.Error = ptr("discovery: no results")
		require.NoError(t, s.UpdateJob(ctx, job))

		job.Status = model.JobStatusProcessing
		job.Error = nil
		job.Progress = 50
		require.NoError(t, s.UpdateJob(ctx, job))

		got, err := s.GetJob(ctx, "j3")
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, "discovery: no results", *got.Error)
		assert.Zero(t, got.Progress)
	})

	t.Run("SaveResultsAndListLeads", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job := testJob("j4")
		require.NoError(t, s.CreateJob(ctx, job))

		done := time.Now().UTC()
		job.Status = model.JobStatusCompleted
		job.Progress = 100
		job.CompletedAt = &done
		job.Metrics.TotalCost = 0.42
		campaign := &model.Campaign{
			ID: job.CampaignID, JobID: job.ID, Name: "plumber in Austin, TX", BusinessType: "plumber",
			Location: "Austin, TX", TierKey: "BASE", Status: "completed", TotalLeads: 2, TotalCost: 0.42,
			AvgConfidence: 70, CreatedAt: done,
		}
		leads := []model.ScoredLead{
			{ID: "l1", BusinessName: "Best Pipes", Address: "9 Oak Ave", OptimizedScore: 60, DataSources: []string{"foursquare"}, DedupKey: "best pipes|9 oak ave"},
			{
				ID: "l2", BusinessName: "Acme Plumbing", Address: "1 Main St", Phone: "555-0100", Website: "https://acme.com",
				Email: ptr("john@acme.com"), OptimizedScore: 80, Rating: 4.5, DataSources: []string{"google_places", "hunter"},
				Enhancement: model.EnhancementData{EmailStatus: model.EmailVerified, CostBreakdown: map[string]float64{"hunter": 0.034}},
			},
		}

		require.NoError(t, s.SaveResults(ctx, job, campaign, leads))
		require.NoError(t, s.SaveResults(ctx, job, campaign, leads), "saving twice is harmless")

		got, err := s.ListLeads(ctx, campaign.ID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "Acme Plumbing", got[0].BusinessName)
		require.NotNil(t, got[0].Email)
		assert.Equal(t, "john@acme.com", *got[0].Email)
		assert.Equal(t, model.EmailVerified, got[0].Enhancement.EmailStatus)
		assert.InDelta(t, 0.034, got[0].Enhancement.CostBreakdown["hunter"], 1e-9)
		assert.Equal(t, []string{"google_places", "hunter"}, got[0].DataSources)
		assert.Nil(t, got[1].Email)
		assert.Empty(t, got[1].Phone)

		stored, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, stored.Status)
		assert.Equal(t, 100, stored.Progress)
		require.NotNil(t, stored.CompletedAt)
	})

	t.Run("ReusableLeads", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		save := func(id, hash, status string, leads ...model.ScoredLead) {
			job := testJob(id)
			require.NoError(t, s.CreateJob(ctx, job))
			job.Status = model.JobStatusCompleted
			campaign := &model.Campaign{
				ID: job.CampaignID, JobID: job.ID, Name: "plumber in Austin, TX", BusinessType: "plumber",
				Location: "Austin, TX", TierKey: "BASE", Status: status, TotalLeads: len(leads),
				CampaignHash: hash, CreatedAt: time.Now().UTC(),
			}
			require.NoError(t, s.SaveResults(ctx, job, campaign, leads))
		}
		save("r1", "hash-a", "completed",
			model.ScoredLead{ID: "r1-a", BusinessName: "Acme Plumbing", Address: "1 Main St", OptimizedScore: 70, DataSources: []string{"google_places"}},
			model.ScoredLead{ID: "r1-b", BusinessName: "Best Pipes", Address: "9 Oak Ave", OptimizedScore: 90, DataSources: []string{"foursquare"}},
		)
		save("r2", "hash-a", "completed",
			model.ScoredLead{ID: "r2-a", BusinessName: "Drain Co", Address: "4 Elm St", OptimizedScore: 50, DataSources: []string{"google_places"}},
		)
		save("r3", "hash-b", "completed",
			model.ScoredLead{ID: "r3-a", BusinessName: "Other Town", Address: "2 Pine", OptimizedScore: 99, DataSources: []string{"google_places"}},
		)
		save("r4", "hash-a", "failed",
			model.ScoredLead{ID: "r4-a", BusinessName: "Half Done", Address: "3 Ash", OptimizedScore: 95, DataSources: []string{"google_places"}},
		)

		got, err := s.ReusableLeads(ctx, "hash-a", 10)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "Best Pipes", got[0].BusinessName)
		assert.Equal(t, "Acme Plumbing", got[1].BusinessName)
		assert.Equal(t, "Drain Co", got[2].BusinessName)

		top, err := s.ReusableLeads(ctx, "hash-a", 1)
		require.NoError(t, err)
		require.Len(t, top, 1)
		assert.Equal(t, "r1-b", top[0].ID)

		none, err := s.ReusableLeads(ctx, "", 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ListJobsFilter", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, s.CreateJob(ctx, testJob(id)))
		}
		failed := testJob("d")
		failed.Status = model.JobStatusFailed
		require.NoError(t, s.CreateJob(ctx, failed))

		all, err := s.ListJobs(ctx, model.JobFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 4)

		onlyFailed, err := s.ListJobs(ctx, model.JobFilter{Status: model.JobStatusFailed})
		require.NoError(t, err)
		require.Len(t, onlyFailed, 1)
		assert.Equal(t, "d", onlyFailed[0].ID)

		limited, err := s.ListJobs(ctx, model.JobFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		byCampaign, err := s.ListJobs(ctx, model.JobFilter{CampaignID: "camp-b"})
		require.NoError(t, err)
		require.Len(t, byCampaign, 1)
		assert.Equal(t, "b", byCampaign[0].ID)
	})

	t.Run("JobStats", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		completed := testJob("s1")
		completed.Status = model.JobStatusCompleted
		completed.Metrics.TotalCost = 1.5
		failed := testJob("s2")
		failed.Status = model.JobStatusFailed
		failed.Metrics.TotalCost = 0.5
		running := testJob("s3")
		running.Status = model.JobStatusProcessing
		for _, j := range []*model.DiscoveryJob{completed, failed, running} {
			require.NoError(t, s.CreateJob(ctx, j))
		}

		st, err := s.JobStats(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, st.Completed)
		assert.Equal(t, 1, st.Failed)
		assert.Equal(t, 1, st.Running)
		assert.InDelta(t, 2.0, st.TotalCost, 1e-9)
		assert.InDelta(t, 1.5, st.MaxCost, 1e-9)

		empty, err := s.JobStats(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Zero(t, empty.Completed+empty.Failed+empty.Running)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestSQLite_Ping(t *testing.T) {
	s := newTestSQLite(t)
	assert.NoError(t, s.Ping(context.Background()))
}

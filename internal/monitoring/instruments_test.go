package monitoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/resilience"
)

func find(points []Point, name string, attrs map[string]string) (Point, bool) {
	for _, p := range points {
		if p.Name != name {
			continue
		}
		match := true
		for k, v := range attrs {
			if p.Attributes[k] != v {
				match = false
			}
		}
		if match {
			return p, true
		}
	}
	return Point{}, false
}

func TestInstruments_JobFinished(t *testing.T) {
	ctx := context.Background()
	mp, reader := NewMeterProvider()
	in, err := NewInstruments(mp)
	require.NoError(t, err)

	in.JobFinished(ctx, &model.DiscoveryJob{
		Status:  model.JobStatusCompleted,
		Config:  model.JobConfig{TierKey: "BASE"},
		Results: make([]model.ScoredLead, 3),
		Metrics: model.JobMetrics{
			CostBySource:     map[string]float64{"google_places": 0.032, "hunter": 0.068},
			ProcessingMillis: 1200,
		},
	})
	in.JobFinished(ctx, &model.DiscoveryJob{
		Status: model.JobStatusFailed,
		Config: model.JobConfig{TierKey: "BASE"},
	})

	points, err := Collect(ctx, reader)
	require.NoError(t, err)

	completed, ok := find(points, MetricJobs, map[string]string{"status": "completed", "tier": "BASE"})
	require.True(t, ok)
	assert.InDelta(t, 1, completed.Value, 1e-9)

	failed, ok := find(points, MetricJobs, map[string]string{"status": "failed"})
	require.True(t, ok)
	assert.InDelta(t, 1, failed.Value, 1e-9)

	leads, ok := find(points, MetricLeads, nil)
	require.True(t, ok)
	assert.InDelta(t, 3, leads.Value, 1e-9)

	hunter, ok := find(points, MetricSpend, map[string]string{"source": "hunter"})
	require.True(t, ok)
	assert.InDelta(t, 0.068, hunter.Value, 1e-9)

	duration, ok := find(points, MetricJobDuration, nil)
	require.True(t, ok)
	assert.Equal(t, uint64(2), duration.Count)
	assert.InDelta(t, 1200, duration.Value, 1e-9)
}

func TestInstruments_BreakerChanged(t *testing.T) {
	mp, reader := NewMeterProvider()
	in, err := NewInstruments(mp)
	require.NoError(t, err)

	reg := resilience.NewRegistry(resilience.BreakerConfig{FailureThreshold: 2}, resilience.WithStateChange(in.BreakerChanged))
	reg.RecordFailure("hunter")
	reg.RecordFailure("hunter")

	points, err := Collect(context.Background(), reader)
	require.NoError(t, err)

	p, ok := find(points, MetricBreakerTransitions, map[string]string{"provider": "hunter", "to": "open"})
	require.True(t, ok)
	assert.InDelta(t, 1, p.Value, 1e-9)
}

// Package monitoring watches job health and provider breakers and raises
// webhook alerts when thresholds are crossed.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/resilience"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Jobs finished or running within the lookback window.
	JobsCompleted int      `json:"jobs_completed"`
	JobsFailed    int      `json:"jobs_failed"`
	JobsRunning   int      `json:"jobs_running"`
	JobFailRate   float64  `json:"job_fail_rate"`
	TotalCostUSD  float64  `json:"total_cost_usd"`
	MaxJobCostUSD float64  `json:"max_job_cost_usd"`
	AvgJobCostUSD float64  `json:"avg_job_cost_usd"`
	OpenBreakers  []string `json:"open_breakers,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// StatsSource provides aggregate job statistics.
type StatsSource interface {
	JobStats(ctx context.Context, since time.Time) (*model.JobStats, error)
}

// BreakerSource provides provider breaker states.
type BreakerSource interface {
	Snapshot() []resilience.BreakerSnapshot
}

// Collector gathers metrics from the store and the breaker registry.
type Collector struct {
	stats    StatsSource
	breakers BreakerSource
	now      func() time.Time
}

// NewCollector creates a new metrics collector. breakers may be nil.
func NewCollector(stats StatsSource, breakers BreakerSource) *Collector {
	return &Collector{stats: stats, breakers: breakers, now: time.Now}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	stats, err := c.stats.JobStats(ctx, now.Add(-time.Duration(lookbackHours)*time.Hour))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: job stats")
	}

	snap.JobsCompleted = stats.Completed
	snap.JobsFailed = stats.Failed
	snap.JobsRunning = stats.Running
	snap.TotalCostUSD = stats.TotalCost
	snap.MaxJobCostUSD = stats.MaxCost
	if finished := stats.Completed + stats.Failed; finished > 0 {
		snap.JobFailRate = float64(stats.Failed) / float64(finished)
		snap.AvgJobCostUSD = stats.TotalCost / float64(finished)
	}

	if c.breakers != nil {
		for _, b := range c.breakers.Snapshot() {
			if b.State == resilience.Open {
				snap.OpenBreakers = append(snap.OpenBreakers, b.Provider)
			}
		}
	}
	return snap, nil
}

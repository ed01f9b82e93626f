package model

import (
	"time"
)

// JobStatus represents the lifecycle state of a discovery job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further mutation is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next is legal. A pending
// job only moves to processing; failing it takes two steps.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// JobStage is the processing sub-state of a running job.
type JobStage string

const (
	StageNone        JobStage = ""
	StageDiscovering JobStage = "discovering_businesses"
	StageScoring     JobStage = "scoring_businesses"
	StageEnriching   JobStage = "enriching_contacts"
	StageStoring     JobStage = "storing_results"
)

// Order returns the position of the stage in the pipeline, 0 for none.
func (s JobStage) Order() int {
	switch s {
	case StageDiscovering:
		return 1
	case StageScoring:
		return 2
	case StageEnriching:
		return 3
	case StageStoring:
		return 4
	default:
		return 0
	}
}

// JobConfig is the request snapshot taken when the job is created. It is
// never modified afterwards.
type JobConfig struct {
	BusinessType       string   `json:"business_type"`
	Location           string   `json:"location"`
	Keywords           []string `json:"keywords,omitempty"`
	MaxResults         int      `json:"max_results"`
	BudgetLimit        float64  `json:"budget_limit"`
	MinConfidenceScore int      `json:"min_confidence_score"`
	TierKey            string   `json:"tier_key"`
	RequestHash        string   `json:"request_hash,omitempty"`
	CampaignHash       string   `json:"campaign_hash,omitempty"`
}

// JobMetrics accumulates counters while a job runs.
type JobMetrics struct {
	RawRecords       int                `json:"raw_records"`
	DiscoveryPasses  int                `json:"discovery_passes,omitempty"`
	ReusedLeads      int                `json:"reused_leads,omitempty"`
	UniqueRecords    int                `json:"unique_records"`
	QualifiedLeads   int                `json:"qualified_leads"`
	EnrichedLeads    int                `json:"enriched_leads"`
	FailedEnrichment int                `json:"failed_enrichment"`
	VerifiedEmails   int                `json:"verified_emails"`
	TotalCost        float64            `json:"total_cost"`
	CostBySource     map[string]float64 `json:"cost_by_source,omitempty"`
	SourcesUsed      []string           `json:"sources_used,omitempty"`
	SkippedProviders map[string]int     `json:"skipped_providers,omitempty"`
	AvgConfidence    float64            `json:"avg_confidence"`
	DensityScore     float64            `json:"density_score,omitempty"`
	ProcessingMillis int64              `json:"processing_ms"`
}

// AddCost folds a per-source breakdown into the metrics.
func (m *JobMetrics) AddCost(breakdown map[string]float64) {
	if len(breakdown) == 0 {
		return
	}
	if m.CostBySource == nil {
		m.CostBySource = make(map[string]float64, len(breakdown))
	}
	for src, c := range breakdown {
		m.CostBySource[src] += c
		m.TotalCost += c
	}
}

// AddSources unions source names into SourcesUsed, keeping first-seen order.
func (m *JobMetrics) AddSources(sources ...string) {
	for _, s := range sources {
		found := false
		for _, have := range m.SourcesUsed {
			if have == s {
				found = true
				break
			}
		}
		if !found {
			m.SourcesUsed = append(m.SourcesUsed, s)
		}
	}
}

// AddSkip counts a provider skip by reason.
func (m *JobMetrics) AddSkip(reason string, n int) {
	if n == 0 {
		return
	}
	if m.SkippedProviders == nil {
		m.SkippedProviders = make(map[string]int)
	}
	m.SkippedProviders[reason] += n
}

// DiscoveryJob is one user discovery request and its progress.
type DiscoveryJob struct {
	ID          string       `json:"id"`
	CampaignID  string       `json:"campaign_id"`
	Status      JobStatus    `json:"status"`
	Stage       JobStage     `json:"current_stage,omitempty"`
	Progress    int          `json:"progress"`
	Config      JobConfig    `json:"config"`
	Metrics     JobMetrics   `json:"metrics"`
	Results     []ScoredLead `json:"results,omitempty"`
	Error       *string      `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status     JobStatus `json:"status,omitempty"`
	CampaignID string    `json:"campaign_id,omitempty"`
	Limit      int       `json:"limit,omitempty"`
}

// JobStats summarizes jobs finished in a time window.
type JobStats struct {
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Running   int     `json:"running"`
	TotalCost float64 `json:"total_cost"`
	MaxCost   float64 `json:"max_cost"`
}

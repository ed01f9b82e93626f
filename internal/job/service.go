package job

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/tier"
)

// Request defaults and limits.
const (
	DefaultMaxResults    = 5
	DefaultMinConfidence = 50
	MaxResultsLimit      = 100
)

// ErrInvalidRequest wraps every validation failure from Submit.
var ErrInvalidRequest = eris.New("job: invalid request")

// Request is a discovery request as received from a caller.
type Request struct {
	BusinessType       string   `json:"businessType"`
	Location           string   `json:"location"`
	Keywords           []string `json:"keywords,omitempty"`
	MaxResults         int      `json:"maxResults,omitempty"`
	BudgetLimit        float64  `json:"budgetLimit,omitempty"`
	MinConfidenceScore *int     `json:"minConfidenceScore,omitempty"`
	TierKey            string   `json:"tierKey,omitempty"`
}

// Accepted is returned once a job has been queued.
type Accepted struct {
	JobID      string `json:"jobId"`
	CampaignID string `json:"campaignId"`
	Status     string `json:"status"`
}

// JobCreator persists new jobs.
type JobCreator interface {
	CreateJob(ctx context.Context, job *model.DiscoveryJob) error
	UpdateJob(ctx context.Context, job *model.DiscoveryJob) error
}

// Service accepts discovery requests and hands them to a Dispatcher.
type Service struct {
	store      JobCreator
	dispatcher Dispatcher
	now        func() time.Time
}

// NewService creates a Service.
func NewService(st JobCreator, d Dispatcher) *Service {
	return &Service{store: st, dispatcher: d, now: time.Now}
}

// Submit validates req, creates a pending job and dispatches it. It returns
// as soon as the job is queued.
func (s *Service) Submit(ctx context.Context, req Request) (*Accepted, error) {
	cfg, err := BuildConfig(req)
	if err != nil {
		return nil, err
	}

	job := &model.DiscoveryJob{
		ID:         uuid.NewString(),
		CampaignID: uuid.NewString(),
		Status:     model.JobStatusPending,
		Config:     cfg,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "job: create")
	}

	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		if ferr := NewTracker(job, s.store, nil).Fail(ctx, eris.Wrap(err, "dispatch failed")); ferr != nil {
			zap.L().Error("job: could not mark undispatched job failed", zap.String("job_id", job.ID), zap.Error(ferr))
		}
		return nil, eris.Wrap(err, "job: dispatch")
	}

	zap.L().Info("job: accepted",
		zap.String("job_id", job.ID),
		zap.String("campaign_id", job.CampaignID),
		zap.String("business_type", cfg.BusinessType),
		zap.String("location", cfg.Location),
		zap.String("tier", cfg.TierKey),
		zap.Int("max_results", cfg.MaxResults),
		zap.Float64("budget", cfg.BudgetLimit),
	)
	return &Accepted{JobID: job.ID, CampaignID: job.CampaignID, Status: string(model.JobStatusProcessing)}, nil
}

// BuildConfig validates req and fills defaults.
func BuildConfig(req Request) (model.JobConfig, error) {
	var problems []string

	businessType := strings.TrimSpace(req.BusinessType)
	location := strings.TrimSpace(req.Location)
	if businessType == "" {
		problems = append(problems, "businessType is required")
	}
	if location == "" {
		problems = append(problems, "location is required")
	}

	maxResults := req.MaxResults
	switch {
	case maxResults == 0:
		maxResults = DefaultMaxResults
	case maxResults < 0 || maxResults > MaxResultsLimit:
		problems = append(problems, fmt.Sprintf("maxResults must be between 1 and %d", MaxResultsLimit))
	}

	minConfidence := DefaultMinConfidence
	if req.MinConfidenceScore != nil {
		minConfidence = *req.MinConfidenceScore
		if minConfidence < 0 || minConfidence > 100 {
			problems = append(problems, "minConfidenceScore must be between 0 and 100")
		}
	}

	settings := tier.Lookup(string(tier.Base))
	if strings.TrimSpace(req.TierKey) != "" {
		parsed, err := tier.Parse(req.TierKey)
		if err != nil {
			problems = append(problems, fmt.Sprintf("unknown tierKey %q", req.TierKey))
		} else {
			settings = parsed
		}
	}

	if req.BudgetLimit < 0 {
		problems = append(problems, "budgetLimit must not be negative")
	}

	if len(problems) > 0 {
		return model.JobConfig{}, eris.Wrap(ErrInvalidRequest, strings.Join(problems, "; "))
	}

	budget := req.BudgetLimit
	if budget == 0 {
		budget = settings.DefaultBudget(maxResults)
	}

	cfg := model.JobConfig{
		BusinessType:       businessType,
		Location:           location,
		Keywords:           cleanKeywords(req.Keywords),
		MaxResults:         maxResults,
		BudgetLimit:        budget,
		MinConfidenceScore: minConfidence,
		TierKey:            string(settings.Key),
	}
	cfg.RequestHash = RequestHash(cfg)
	cfg.CampaignHash = CampaignHash(cfg)
	return cfg, nil
}

// RequestHash fingerprints every normalized request field.
func RequestHash(cfg model.JobConfig) string {
	keywords := make([]string, len(cfg.Keywords))
	for i, k := range cfg.Keywords {
		keywords[i] = strings.ToLower(k)
	}
	sort.Strings(keywords)
	return digest(
		strings.ToLower(cfg.BusinessType),
		strings.ToLower(cfg.Location),
		strings.Join(keywords, ","),
		fmt.Sprint(cfg.MaxResults),
		fmt.Sprintf("%.4f", cfg.BudgetLimit),
		fmt.Sprint(cfg.MinConfidenceScore),
		cfg.TierKey,
	)
}

// CampaignHash fingerprints what was searched for, ignoring limits.
func CampaignHash(cfg model.JobConfig) string {
	return digest(strings.ToLower(cfg.BusinessType), strings.ToLower(cfg.Location), cfg.TierKey)
}

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func cleanKeywords(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, k := range in {
		k = strings.TrimSpace(k)
		if k == "" || seen[strings.ToLower(k)] {
			continue
		}
		seen[strings.ToLower(k)] = true
		out = append(out, k)
	}
	return out
}

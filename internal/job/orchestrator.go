package job

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-pipeline/internal/budget"
	"github.com/sells-group/lead-pipeline/internal/density"
	"github.com/sells-group/lead-pipeline/internal/discovery"
	"github.com/sells-group/lead-pipeline/internal/enrich"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/notify"
	"github.com/sells-group/lead-pipeline/internal/scorer"
	"github.com/sells-group/lead-pipeline/internal/store"
	"github.com/sells-group/lead-pipeline/internal/tier"
	"github.com/sells-group/lead-pipeline/internal/waterfall"
)

const (
	defaultConcurrency      = 3
	defaultCandidateTimeout = 90 * time.Second
)

// Discoverer finds raw business records for a query.
type Discoverer interface {
	Discover(ctx context.Context, q discovery.Query, maxResults int, b waterfall.Budget) (*discovery.Result, error)
}

// DensityLookup returns the regional density signal. Implementations
// degrade to density.Unavailable instead of failing.
type DensityLookup interface {
	Lookup(ctx context.Context, businessType, location string) density.Result
}

// Enricher enriches one lead within budget b.
type Enricher interface {
	Enrich(ctx context.Context, lead model.ScoredLead, f tier.Features, b waterfall.Budget) enrich.Result
}

// ResultWriter is the storage the orchestrator needs.
type ResultWriter interface {
	store.JobWriter
	SaveResults(ctx context.Context, job *model.DiscoveryJob, campaign *model.Campaign, leads []model.ScoredLead) error
}

// Observer is told about every job that reaches a terminal state.
type Observer interface {
	JobFinished(ctx context.Context, job *model.DiscoveryJob)
}

// Runner executes a job to a terminal state.
type Runner interface {
	Run(ctx context.Context, job *model.DiscoveryJob) (*model.DiscoveryJob, error)
}

// Orchestrator sequences discovery, scoring, enrichment and storage for a
// job.
type Orchestrator struct {
	store     ResultWriter
	directory Discoverer
	scorer    *scorer.Scorer
	enricher  Enricher
	density   DensityLookup
	pub       notify.Publisher
	observer  Observer

	concurrency      int
	candidateTimeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDensity enables the density multiplier.
func WithDensity(d DensityLookup) Option {
	return func(o *Orchestrator) { o.density = d }
}

// WithPublisher publishes job updates.
func WithPublisher(p notify.Publisher) Option {
	return func(o *Orchestrator) { o.pub = p }
}

// WithObserver registers a terminal-state observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithConcurrency bounds concurrent candidate enrichments.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithCandidateTimeout bounds the enrichment of a single candidate.
func WithCandidateTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.candidateTimeout = d
		}
	}
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(st ResultWriter, directory Discoverer, sc *scorer.Scorer, enricher Enricher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:            st,
		directory:        directory,
		scorer:           sc,
		enricher:         enricher,
		pub:              notify.Nop{},
		concurrency:      defaultConcurrency,
		candidateTimeout: defaultCandidateTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes job to completion. The returned job is the terminal
// snapshot. A non-nil error means the job failed (or was already terminal);
// the failure has been recorded.
func (o *Orchestrator) Run(ctx context.Context, job *model.DiscoveryJob) (*model.DiscoveryJob, error) {
	t := NewTracker(job, o.store, o.pub)
	if err := t.Start(ctx); err != nil {
		final := t.Snapshot()
		if o.observer != nil && final.Status.IsTerminal() && !eris.Is(err, ErrTerminal) {
			o.observer.JobFinished(ctx, final)
		}
		return final, err
	}

	runErr := o.execute(ctx, t)
	if runErr != nil {
		if err := t.Fail(ctx, runErr); err != nil {
			zap.L().Error("job: could not record failure", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	final := t.Snapshot()
	if o.observer != nil {
		o.observer.JobFinished(ctx, final)
	}
	return final, runErr
}

func (o *Orchestrator) execute(ctx context.Context, t *Tracker) error {
	job := t.Snapshot()
	cfg := job.Config
	settings := tier.Lookup(cfg.TierKey)
	ledger := budget.NewLedger(cfg.BudgetLimit, settings.MaxCostPerLead)
	log := zap.L().With(zap.String("job_id", job.ID))

	// Discovery.
	found, err := o.directory.Discover(ctx, discovery.Query{
		BusinessType: cfg.BusinessType,
		Location:     cfg.Location,
		Keywords:     cfg.Keywords,
		CampaignHash: cfg.CampaignHash,
	}, cfg.MaxResults, ledger.Shared())
	if err != nil {
		return eris.Wrap(err, "job: discovery")
	}
	t.Metrics(func(m *model.JobMetrics) {
		m.RawRecords = len(found.Records)
		m.DiscoveryPasses = found.Passes
		m.ReusedLeads = found.Reused()
		m.AddSources(found.Outcome.SourcesUsed...)
		for reason, sources := range found.Outcome.Skipped() {
			m.AddSkip(reason, len(sources))
		}
	})

	// Scoring.
	if err := t.Advance(ctx, model.StageScoring); err != nil {
		return err
	}
	dens := density.Unavailable()
	if o.density != nil {
		dens = o.density.Lookup(ctx, cfg.BusinessType, cfg.Location)
	}
	leads, summary := o.scorer.Rank(found.Records, scorer.RankOptions{
		MinConfidence: cfg.MinConfidenceScore,
		MaxResults:    cfg.MaxResults,
		Multiplier:    dens.Multiplier,
	})
	t.Metrics(func(m *model.JobMetrics) {
		m.UniqueRecords = summary.Unique
		m.QualifiedLeads = summary.Qualified
		m.DensityScore = dens.Score
	})
	log.Info("job: scored candidates",
		zap.Int("raw", summary.Raw),
		zap.Int("unique", summary.Unique),
		zap.Int("qualified", summary.Qualified),
		zap.Int("returned", summary.Returned),
		zap.Float64("density_multiplier", dens.Multiplier),
	)

	// Enrichment.
	if err := t.Advance(ctx, model.StageEnriching); err != nil {
		return err
	}
	if err := o.enrichAll(ctx, t, leads, settings, ledger); err != nil {
		return err
	}

	// Storage.
	if err := t.Advance(ctx, model.StageStoring); err != nil {
		return err
	}
	for i := range leads {
		leads[i].ID = LeadID(job.CampaignID, leads[i].DedupKey)
	}
	avg := averageScore(leads)
	t.Metrics(func(m *model.JobMetrics) {
		m.CostBySource = ledger.SpentBy()
		m.TotalCost = ledger.Spent()
		m.AvgConfidence = avg
	})

	return t.Complete(ctx, leads, func(ctx context.Context, done *model.DiscoveryJob) error {
		return o.store.SaveResults(ctx, done, campaignFor(done, leads, time.Now().UTC()), leads)
	})
}

// enrichAll enriches leads in place with bounded concurrency. A candidate
// failure keeps its pre-enrichment lead.
func (o *Orchestrator) enrichAll(ctx context.Context, t *Tracker, leads []model.ScoredLead, settings tier.Settings, ledger *budget.Ledger) error {
	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for i := range leads {
		g.Go(func() error {
			res, err := o.enrichOne(gctx, leads[i], settings.Features, ledger.Candidate())

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				zap.L().Warn("job: candidate enrichment failed",
					zap.String("business", leads[i].BusinessName),
					zap.Error(err),
				)
				leads[i].Enhancement.EnrichmentError = err.Error()
				t.Metrics(func(m *model.JobMetrics) { m.FailedEnrichment++ })
			} else {
				leads[i] = res.Lead
				t.Metrics(func(m *model.JobMetrics) {
					m.EnrichedLeads++
					if res.Verified() {
						m.VerifiedEmails++
					}
					m.AddSources(res.SourcesUsed...)
					for reason, n := range res.Skipped {
						m.AddSkip(reason, n)
					}
				})
			}
			done++
			if err := t.Progress(ctx, EnrichProgress(done, len(leads))); err != nil {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "job: enrichment canceled")
	}
	return nil
}

// enrichOne enriches a single lead under the candidate timeout. Panics and
// timeouts are reported as errors so the candidate keeps its original data.
func (o *Orchestrator) enrichOne(ctx context.Context, lead model.ScoredLead, f tier.Features, account *budget.Account) (res enrich.Result, err error) {
	cctx, cancel := context.WithTimeout(ctx, o.candidateTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("job: enrichment panic: %v", r)
		}
	}()

	res = o.enricher.Enrich(cctx, lead, f, account)
	if cerr := cctx.Err(); cerr != nil {
		return enrich.Result{}, eris.Wrap(cerr, "job: candidate enrichment")
	}
	return res, nil
}

// LeadID derives a stable lead id from the campaign and dedup key so a
// retried job overwrites its own rows.
func LeadID(campaignID, dedupKey string) string {
	ns, err := uuid.Parse(campaignID)
	if err != nil {
		ns = uuid.NewSHA1(uuid.NameSpaceOID, []byte(campaignID))
	}
	return uuid.NewSHA1(ns, []byte(dedupKey)).String()
}

func averageScore(leads []model.ScoredLead) float64 {
	if len(leads) == 0 {
		return 0
	}
	var sum int
	for _, l := range leads {
		sum += l.OptimizedScore
	}
	return math.Round(float64(sum)/float64(len(leads))*100) / 100
}

func campaignFor(job *model.DiscoveryJob, leads []model.ScoredLead, now time.Time) *model.Campaign {
	return &model.Campaign{
		ID:            job.CampaignID,
		JobID:         job.ID,
		Name:          fmt.Sprintf("%s in %s", job.Config.BusinessType, job.Config.Location),
		BusinessType:  job.Config.BusinessType,
		Location:      job.Config.Location,
		TierKey:       string(tier.Lookup(job.Config.TierKey).Key),
		Status:        string(model.JobStatusCompleted),
		TotalLeads:    len(leads),
		TotalCost:     job.Metrics.TotalCost,
		AvgConfidence: job.Metrics.AvgConfidence,
		CampaignHash:  job.Config.CampaignHash,
		CreatedAt:     now,
	}
}

// Package enrich finds and verifies contact emails for scored leads through
// budget-gated provider chains.
package enrich

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/cache"
	"github.com/sells-group/lead-pipeline/internal/classify"
	"github.com/sells-group/lead-pipeline/internal/cost"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/resilience"
	"github.com/sells-group/lead-pipeline/internal/tier"
	"github.com/sells-group/lead-pipeline/internal/waterfall"
	"github.com/sells-group/lead-pipeline/pkg/apollo"
	"github.com/sells-group/lead-pipeline/pkg/hunter"
	"github.com/sells-group/lead-pipeline/pkg/neverbounce"
	"github.com/sells-group/lead-pipeline/pkg/pdl"
)

// Chain names, as used in waterfall config files.
const (
	ChainEmail      = "email"
	ChainOwnerEmail = "owner_email"
	ChainPerson     = "person"
	ChainVerify     = "verify"
)

// DefaultMaxVerify caps verifications per lead.
const DefaultMaxVerify = 5

// Query is the input of the email chains.
type Query struct {
	Domain       string
	BusinessName string
	FirstName    string
	LastName     string
}

// HasOwner reports whether an owner name is known.
func (q Query) HasOwner() bool { return q.FirstName != "" && q.LastName != "" }

// Clients holds the vendor clients. Nil clients drop their sources.
type Clients struct {
	Hunter      hunter.Client
	Apollo      apollo.Client
	PDL         pdl.Client
	NeverBounce neverbounce.Client
	Cache       cache.Cache
}

// Options tunes the enricher.
type Options struct {
	// Chain is the base engine configuration for every chain.
	Chain waterfall.Options
	// Chains holds per-chain overrides loaded from the waterfall file.
	Chains            *waterfall.Config
	MaxVerify         int
	MaxPatterns       int
	PatternConfidence int
	CacheTTL          time.Duration
}

// Result is the outcome of enriching one lead.
type Result struct {
	Lead         model.ScoredLead
	CostBySource map[string]float64
	SourcesUsed  []string
	// Skipped counts provider skips by reason.
	Skipped map[string]int
}

// Cost sums CostBySource.
func (r Result) Cost() float64 {
	var total float64
	for _, c := range r.CostBySource {
		total += c
	}
	return total
}

// Verified reports whether the lead ended with a verified email.
func (r Result) Verified() bool { return r.Lead.Enhancement.EmailStatus == model.EmailVerified }

func (r *Result) absorb(attempts []waterfall.Attempt, costs map[string]float64, used []string) {
	for src, c := range costs {
		r.CostBySource[src] += c
	}
	r.SourcesUsed = unionStrings(r.SourcesUsed, used)
	for _, a := range attempts {
		if a.Skipped != "" {
			r.Skipped[a.Skipped]++
		}
	}
}

// Enricher runs the per-lead enrichment chains.
type Enricher struct {
	pattern      *PatternSource
	hunterDomain *HunterDomainSource
	apollo       *ApolloSource
	finder       *HunterFinderSource
	pdl          *PDLSource
	neverbounce  *NeverBounceSource
	hunterVerify *HunterVerifierSource

	breakers *resilience.Registry
	limiters *waterfall.Limiters
	opts     Options
}

// New creates an Enricher. breakers and limiters are shared across jobs.
func New(clients Clients, calc *cost.Calculator, breakers *resilience.Registry, limiters *waterfall.Limiters, opts Options) *Enricher {
	if opts.MaxVerify <= 0 {
		opts.MaxVerify = DefaultMaxVerify
	}
	if opts.Chain.HighConfidence == 0 {
		opts.Chain.HighConfidence = waterfall.DefaultHighConfidence
	}
	if breakers == nil {
		breakers = resilience.NewRegistry(resilience.PaidBreakerConfig())
	}

	e := &Enricher{
		pattern:  NewPatternSource(opts.MaxPatterns, opts.PatternConfidence),
		breakers: breakers,
		limiters: limiters,
		opts:     opts,
	}
	if clients.Hunter != nil {
		e.hunterDomain = NewHunterDomainSource(clients.Hunter, calc, clients.Cache, opts.CacheTTL)
		e.finder = NewHunterFinderSource(clients.Hunter, calc)
		e.hunterVerify = NewHunterVerifierSource(clients.Hunter, calc)
	}
	if clients.Apollo != nil {
		e.apollo = NewApolloSource(clients.Apollo, calc)
	}
	if clients.PDL != nil {
		e.pdl = NewPDLSource(clients.PDL, calc)
	}
	if clients.NeverBounce != nil {
		e.neverbounce = NewNeverBounceSource(clients.NeverBounce, calc)
	}
	return e
}

func chain[Q, T any](e *Enricher, name string, merger waterfall.Merger[T], tune func(*waterfall.Options), sources ...waterfall.Source[Q, T]) *waterfall.Engine[Q, T] {
	cc := e.opts.Chains.GetChain(name)
	opts := cc.Apply(e.opts.Chain)
	if tune != nil {
		tune(&opts)
	}
	return waterfall.New(name, merger, e.breakers, opts, waterfall.Filter(cc, sources...)...).WithLimiters(e.limiters)
}

// emailSources returns the email chain for a tier. Apollo is reserved for
// compliance tiers.
func (e *Enricher) emailSources(f tier.Features) []waterfall.Source[Query, model.EmailCandidate] {
	out := []waterfall.Source[Query, model.EmailCandidate]{e.pattern}
	if e.hunterDomain != nil {
		out = append(out, e.hunterDomain)
	}
	if f.ComplianceEnrichment && e.apollo != nil {
		out = append(out, e.apollo)
	}
	return out
}

func (e *Enricher) verifySources() []waterfall.Source[string, Verdict] {
	var out []waterfall.Source[string, Verdict]
	if e.neverbounce != nil {
		out = append(out, e.neverbounce)
	}
	if e.hunterVerify != nil {
		out = append(out, e.hunterVerify)
	}
	return out
}

// Enrich finds, optionally verifies and classifies the lead's email. It
// never fails: provider errors are absorbed by the chains and an exhausted
// budget leaves the lead as found so far.
func (e *Enricher) Enrich(ctx context.Context, lead model.ScoredLead, f tier.Features, b waterfall.Budget) Result {
	res := Result{CostBySource: make(map[string]float64), Skipped: make(map[string]int)}
	log := zap.L().With(zap.String("business", lead.BusinessName))

	domain := classify.Domain(lead.Website)
	if domain == "" {
		log.Debug("enrich: no domain, skipping email discovery")
		classify.Apply(&lead, classify.Classify(lead.Website, nil, f.VerifyEmails))
		res.Lead = lead
		return res
	}

	q := Query{Domain: domain, BusinessName: lead.BusinessName}
	emails := chain(e, ChainEmail, waterfall.Merger[model.EmailCandidate](EmailMerger{}), nil, e.emailSources(f)...)
	out := emails.Run(ctx, q, b)
	res.absorb(out.Attempts, out.CostBySource, out.SourcesUsed)
	candidates := out.Items

	owner := pickOwner(candidates)
	if f.PersonEnrichment && e.pdl != nil && ctx.Err() == nil {
		if p, ok := e.enrichPerson(ctx, lead, domain, candidates, owner, b, &res); ok {
			if owner.first == "" && p.FirstName != "" && p.LastName != "" {
				owner = ownerInfo{first: p.FirstName, last: p.LastName}
			}
			owner.title = firstNonEmpty(owner.title, p.Title)
			owner.full = firstNonEmpty(p.FullName, owner.full)
			candidates = mergeCandidates(candidates, p.Emails)
		}
	}

	if owner.first != "" && owner.last != "" && e.finder != nil && ctx.Err() == nil &&
		bestConfidence(candidates) < e.opts.Chain.HighConfidence {
		oq := q
		oq.FirstName, oq.LastName = owner.first, owner.last
		ownerChain := chain(e, ChainOwnerEmail, waterfall.Merger[model.EmailCandidate](EmailMerger{}), nil,
			waterfall.Source[Query, model.EmailCandidate](e.pattern), waterfall.Source[Query, model.EmailCandidate](e.finder))
		oout := ownerChain.Run(ctx, oq, b)
		res.absorb(oout.Attempts, oout.CostBySource, oout.SourcesUsed)
		candidates = mergeCandidates(candidates, oout.Items)
	}

	if f.VerifyEmails && ctx.Err() == nil {
		candidates = e.verify(ctx, candidates, b, &res)
	}

	lead.Enhancement.Emails = candidates
	lead.Enhancement.OwnerName = owner.name()
	lead.Enhancement.OwnerTitle = owner.title
	lead.Enhancement.CostBreakdown = res.CostBySource
	lead.Enhancement.VerificationSources = unionStrings(lead.Enhancement.VerificationSources, res.SourcesUsed)
	lead.DataSources = unionStrings(lead.DataSources, res.SourcesUsed)
	classify.Apply(&lead, classify.Classify(lead.Website, candidates, f.VerifyEmails))

	log.Debug("enrich: lead enriched",
		zap.String("domain", domain),
		zap.Int("candidates", len(candidates)),
		zap.String("email_status", string(lead.Enhancement.EmailStatus)),
		zap.Float64("cost", res.Cost()),
	)
	res.Lead = lead
	return res
}

func (e *Enricher) enrichPerson(ctx context.Context, lead model.ScoredLead, domain string, candidates []model.EmailCandidate, owner ownerInfo, b waterfall.Budget, res *Result) (Person, bool) {
	pq := PersonQuery{Company: lead.BusinessName, Domain: domain}
	if owner.email != "" {
		pq.Email = owner.email
	} else if email := bestPersonal(candidates); email != "" {
		pq.Email = email
	} else {
		pq.FirstName, pq.LastName = owner.first, owner.last
	}
	if !pq.Usable() {
		return Person{}, false
	}

	person := chain(e, ChainPerson, waterfall.Merger[Person](personMerger{}), func(o *waterfall.Options) {
		o.Cap = 1
	}, waterfall.Source[PersonQuery, Person](e.pdl))
	out := person.Run(ctx, pq, b)
	res.absorb(out.Attempts, out.CostBySource, out.SourcesUsed)
	if len(out.Items) == 0 {
		return Person{}, false
	}
	return out.Items[0], true
}

// verify checks the top candidates and returns the list with verification
// applied. Addresses a verifier definitively rejects are dropped.
func (e *Enricher) verify(ctx context.Context, candidates []model.EmailCandidate, b waterfall.Budget, res *Result) []model.EmailCandidate {
	sources := e.verifySources()
	if len(sources) == 0 || len(candidates) == 0 {
		return candidates
	}
	verifier := chain(e, ChainVerify, waterfall.Merger[Verdict](verdictMerger{}), func(o *waterfall.Options) {
		o.HighConfidence = 100
		o.Cap = 0
	}, sources...)

	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return candidates[order[i]].Confidence > candidates[order[j]].Confidence
	})
	if len(order) > e.opts.MaxVerify {
		order = order[:e.opts.MaxVerify]
	}

	rejected := make(map[int]bool)
	for _, i := range order {
		if ctx.Err() != nil {
			break
		}
		out := verifier.Run(ctx, candidates[i].Value, b)
		res.absorb(out.Attempts, out.CostBySource, out.SourcesUsed)
		if out.StopReason == waterfall.StopBudgetExhausted {
			break
		}
		if len(out.Items) == 0 {
			continue
		}
		v := out.Items[0]
		c := &candidates[i]
		c.Sources = unionStrings(c.Sources, []string{v.Source})
		switch {
		case v.Deliverable:
			c.Verified = true
			c.Confidence = max(c.Confidence, v.Confidence)
		case v.Conclusive:
			rejected[i] = true
		}
	}

	kept := candidates[:0:0]
	for i, c := range candidates {
		if !rejected[i] {
			kept = append(kept, c)
		}
	}
	return kept
}

type ownerInfo struct {
	first, last, full, title, email string
}

func (o ownerInfo) name() string {
	if o.full != "" {
		return o.full
	}
	return strings.TrimSpace(o.first + " " + o.last)
}

var ownerTitles = []string{"owner", "founder", "president", "ceo", "principal", "managing"}

// pickOwner returns the most senior named person among candidates.
func pickOwner(candidates []model.EmailCandidate) ownerInfo {
	var best *model.EmailCandidate
	bestRank := -1
	for i := range candidates {
		c := &candidates[i]
		if c.FirstName == "" || c.LastName == "" {
			continue
		}
		rank := 0
		pos := strings.ToLower(c.Position)
		for _, t := range ownerTitles {
			if strings.Contains(pos, t) {
				rank = 1
				break
			}
		}
		if rank > bestRank || (rank == bestRank && c.Confidence > best.Confidence) {
			best, bestRank = c, rank
		}
	}
	if best == nil {
		return ownerInfo{}
	}
	return ownerInfo{first: best.FirstName, last: best.LastName, title: best.Position, email: best.Value}
}

func bestPersonal(candidates []model.EmailCandidate) string {
	best, conf := "", -1
	for _, c := range candidates {
		if c.Type == model.EmailTypePersonal && c.Confidence > conf {
			best, conf = c.Value, c.Confidence
		}
	}
	return best
}

func bestConfidence(candidates []model.EmailCandidate) int {
	best := 0
	for _, c := range candidates {
		best = max(best, c.Confidence)
	}
	return best
}

func mergeCandidates(current, extra []model.EmailCandidate) []model.EmailCandidate {
	var m EmailMerger
	index := make(map[string]int, len(current))
	for i, c := range current {
		index[m.Key(c)] = i
	}
	for _, c := range extra {
		k := m.Key(c)
		if i, ok := index[k]; ok {
			current[i] = m.Merge(current[i], c)
			continue
		}
		index[k] = len(current)
		current = append(current, c)
	}
	return current
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

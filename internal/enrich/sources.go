package enrich

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/cache"
	"github.com/sells-group/lead-pipeline/internal/cost"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/resilience"
	"github.com/sells-group/lead-pipeline/internal/waterfall"
	"github.com/sells-group/lead-pipeline/pkg/apollo"
	"github.com/sells-group/lead-pipeline/pkg/hunter"
	"github.com/sells-group/lead-pipeline/pkg/neverbounce"
	"github.com/sells-group/lead-pipeline/pkg/pdl"
)

const (
	hunterDomainLimit = 10
	apolloPerPage     = 10
)

type emailBatch = waterfall.Batch[model.EmailCandidate]

// HunterDomainSource lists the addresses Hunter knows for a domain. Results
// are cached across jobs when a cache is configured; cached answers are free.
type HunterDomainSource struct {
	client hunter.Client
	calc   *cost.Calculator
	cache  cache.Cache
	ttl    time.Duration
}

// NewHunterDomainSource creates a HunterDomainSource. c may be nil.
func NewHunterDomainSource(client hunter.Client, calc *cost.Calculator, c cache.Cache, ttl time.Duration) *HunterDomainSource {
	return &HunterDomainSource{client: client, calc: calc, cache: c, ttl: ttl}
}

// Name implements waterfall.Source.
func (s *HunterDomainSource) Name() string { return model.SourceHunter }

// Free implements waterfall.Source.
func (s *HunterDomainSource) Free() bool { return false }

// EstimateCost implements waterfall.Source.
func (s *HunterDomainSource) EstimateCost(Query) float64 {
	return s.calc.HunterDomainSearch(hunterDomainLimit)
}

func domainCacheKey(domain string) string { return "hunter:domain:" + domain }

// Fetch implements waterfall.Source. Hunter only bills searches that return
// addresses.
func (s *HunterDomainSource) Fetch(ctx context.Context, q Query) (emailBatch, error) {
	key := domainCacheKey(q.Domain)
	cached, hit, err := cache.GetJSON[hunter.DomainSearchResult](ctx, s.cache, key)
	if err != nil {
		zap.L().Debug("enrich: domain cache read failed", zap.String("domain", q.Domain), zap.Error(err))
	}
	if hit {
		return emailBatch{Items: hunterEmails(cached, model.SourceCache)}, nil
	}

	res, err := s.client.DomainSearch(ctx, q.Domain, hunterDomainLimit)
	if err != nil {
		return emailBatch{}, err
	}

	batch := emailBatch{Items: hunterEmails(res, "")}
	if len(res.Emails) > 0 {
		batch.Cost = s.calc.HunterDomainSearch(hunterDomainLimit)
	}
	if err := cache.SetJSON(ctx, s.cache, key, res, s.ttl); err != nil {
		zap.L().Debug("enrich: domain cache write failed", zap.String("domain", q.Domain), zap.Error(err))
	}
	return batch, nil
}

func hunterEmails(res *hunter.DomainSearchResult, extraSource string) []model.EmailCandidate {
	out := make([]model.EmailCandidate, 0, len(res.Emails))
	for _, e := range res.Emails {
		if e.Value == "" {
			continue
		}
		c := model.EmailCandidate{
			Value:      e.Value,
			Confidence: e.Confidence,
			Type:       model.EmailTypeGeneric,
			Source:     model.SourceHunter,
			FirstName:  e.FirstName,
			LastName:   e.LastName,
			Position:   e.Position,
		}
		if e.Type == "personal" {
			c.Type = model.EmailTypePersonal
		}
		if extraSource != "" {
			c.Sources = []string{extraSource}
		}
		out = append(out, c)
	}
	return out
}

// ApolloSource searches Apollo for decision makers at the domain. It is only
// registered for tiers that pay for compliance enrichment.
type ApolloSource struct {
	client apollo.Client
	calc   *cost.Calculator
}

// NewApolloSource creates an ApolloSource.
func NewApolloSource(client apollo.Client, calc *cost.Calculator) *ApolloSource {
	return &ApolloSource{client: client, calc: calc}
}

// Name implements waterfall.Source.
func (s *ApolloSource) Name() string { return model.SourceApollo }

// Free implements waterfall.Source.
func (s *ApolloSource) Free() bool { return false }

// EstimateCost implements waterfall.Source.
func (s *ApolloSource) EstimateCost(Query) float64 { return s.calc.ApolloPeopleSearch(apolloPerPage) }

// Fetch implements waterfall.Source.
func (s *ApolloSource) Fetch(ctx context.Context, q Query) (emailBatch, error) {
	resp, err := s.client.PeopleSearch(ctx, apollo.PeopleSearchRequest{
		OrganizationDomains: []string{q.Domain},
		PersonTitles:        apollo.DefaultTitles,
		PerPage:             apolloPerPage,
	})
	if err != nil {
		return emailBatch{}, err
	}

	var batch emailBatch
	for _, p := range resp.People {
		if p.Email == "" {
			continue
		}
		batch.Items = append(batch.Items, model.EmailCandidate{
			Value:      p.Email,
			Confidence: apolloConfidence(p.EmailStatus),
			Type:       model.EmailTypePersonal,
			Source:     model.SourceApollo,
			FirstName:  p.FirstName,
			LastName:   p.LastName,
			Position:   p.Title,
		})
	}
	batch.Cost = s.calc.ApolloPeopleSearch(len(batch.Items))
	return batch, nil
}

func apolloConfidence(status string) int {
	switch status {
	case "verified":
		return 90
	case "guessed":
		return 65
	default:
		return 50
	}
}

// HunterFinderSource looks up a named person's address at the domain.
type HunterFinderSource struct {
	client hunter.Client
	calc   *cost.Calculator
}

// NewHunterFinderSource creates a HunterFinderSource.
func NewHunterFinderSource(client hunter.Client, calc *cost.Calculator) *HunterFinderSource {
	return &HunterFinderSource{client: client, calc: calc}
}

// Name implements waterfall.Source.
func (s *HunterFinderSource) Name() string { return model.SourceHunterFinder }

// Free implements waterfall.Source.
func (s *HunterFinderSource) Free() bool { return false }

// EstimateCost implements waterfall.Source.
func (s *HunterFinderSource) EstimateCost(Query) float64 { return s.calc.HunterEmailFinder() }

// Fetch implements waterfall.Source. A miss is not billed.
func (s *HunterFinderSource) Fetch(ctx context.Context, q Query) (emailBatch, error) {
	if !q.HasOwner() {
		return emailBatch{}, nil
	}
	res, err := s.client.EmailFinder(ctx, q.Domain, q.FirstName, q.LastName)
	if err != nil {
		if resilience.StatusCode(err) == http.StatusNotFound {
			return emailBatch{}, nil
		}
		return emailBatch{}, err
	}
	if res.Email == "" {
		return emailBatch{}, nil
	}
	return emailBatch{
		Items: []model.EmailCandidate{{
			Value:      res.Email,
			Confidence: res.Score,
			Type:       model.EmailTypePersonal,
			Source:     model.SourceHunterFinder,
			FirstName:  res.FirstName,
			LastName:   res.LastName,
			Position:   res.Position,
		}},
		Cost: s.calc.HunterEmailFinder(),
	}, nil
}

// Person is what person enrichment contributes to a lead.
type Person struct {
	FullName   string
	FirstName  string
	LastName   string
	Title      string
	Likelihood int
	Emails     []model.EmailCandidate
}

// PersonQuery identifies the person to enrich.
type PersonQuery struct {
	Email     string
	FirstName string
	LastName  string
	Company   string
	Domain    string
}

// Usable reports whether PDL can match on q.
func (q PersonQuery) Usable() bool {
	return q.Email != "" || (q.FirstName != "" && q.LastName != "" && q.Company != "")
}

// PDLSource enriches the business owner through People Data Labs.
type PDLSource struct {
	client        pdl.Client
	calc          *cost.Calculator
	minLikelihood int
}

// NewPDLSource creates a PDLSource.
func NewPDLSource(client pdl.Client, calc *cost.Calculator) *PDLSource {
	return &PDLSource{client: client, calc: calc, minLikelihood: 6}
}

// Name implements waterfall.Source.
func (s *PDLSource) Name() string { return model.SourcePDL }

// Free implements waterfall.Source.
func (s *PDLSource) Free() bool { return false }

// EstimateCost implements waterfall.Source.
func (s *PDLSource) EstimateCost(PersonQuery) float64 { return s.calc.PDLPerson() }

// Fetch implements waterfall.Source. PDL does not bill misses.
func (s *PDLSource) Fetch(ctx context.Context, q PersonQuery) (waterfall.Batch[Person], error) {
	p, err := s.client.EnrichPerson(ctx, pdl.PersonRequest{
		Email:         q.Email,
		FirstName:     q.FirstName,
		LastName:      q.LastName,
		Company:       q.Company,
		MinLikelihood: s.minLikelihood,
	})
	if err != nil {
		if eris.Is(err, pdl.ErrNotFound) {
			return waterfall.Batch[Person]{}, nil
		}
		return waterfall.Batch[Person]{}, err
	}

	person := Person{
		FullName:   p.FullName,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Title:      p.JobTitle,
		Likelihood: p.Likelihood,
	}
	conf := min(p.Likelihood*10, 100)
	add := func(email string, typ model.EmailType) {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			return
		}
		for _, e := range person.Emails {
			if e.Value == email {
				return
			}
		}
		person.Emails = append(person.Emails, model.EmailCandidate{
			Value:      email,
			Confidence: conf,
			Type:       typ,
			Source:     model.SourcePDL,
			FirstName:  p.FirstName,
			LastName:   p.LastName,
			Position:   p.JobTitle,
		})
	}
	add(p.WorkEmail, model.EmailTypePersonal)
	for _, e := range p.Emails {
		add(e, model.EmailTypePersonal)
	}

	return waterfall.Batch[Person]{Items: []Person{person}, Cost: s.calc.PDLPerson()}, nil
}

// Verdict is one verifier's answer for an address.
type Verdict struct {
	Email       string
	Deliverable bool
	// Conclusive is false for catch-all and unknown results; the chain
	// moves on to the next verifier.
	Conclusive bool
	Confidence int
	Result     string
	Source     string
}

type verdictBatch = waterfall.Batch[Verdict]

// NeverBounceSource verifies through NeverBounce.
type NeverBounceSource struct {
	client neverbounce.Client
	calc   *cost.Calculator
}

// NewNeverBounceSource creates a NeverBounceSource.
func NewNeverBounceSource(client neverbounce.Client, calc *cost.Calculator) *NeverBounceSource {
	return &NeverBounceSource{client: client, calc: calc}
}

// Name implements waterfall.Source.
func (s *NeverBounceSource) Name() string { return model.SourceNeverBounce }

// Free implements waterfall.Source.
func (s *NeverBounceSource) Free() bool { return false }

// EstimateCost implements waterfall.Source.
func (s *NeverBounceSource) EstimateCost(string) float64 { return s.calc.NeverBounceVerify(1) }

// Fetch implements waterfall.Source.
func (s *NeverBounceSource) Fetch(ctx context.Context, email string) (verdictBatch, error) {
	res, err := s.client.Check(ctx, email)
	if err != nil {
		return verdictBatch{}, err
	}
	v := Verdict{
		Email:       email,
		Deliverable: res.Deliverable(),
		Conclusive:  res.Result == neverbounce.ResultValid || res.Result == neverbounce.ResultInvalid || res.Result == neverbounce.ResultDisposable,
		Confidence:  res.Confidence(),
		Result:      res.Result,
		Source:      model.SourceNeverBounce,
	}
	return verdictBatch{Items: []Verdict{v}, Cost: s.calc.NeverBounceVerify(1)}, nil
}

// HunterVerifierSource verifies through Hunter's email verifier.
type HunterVerifierSource struct {
	client hunter.Client
	calc   *cost.Calculator
}

// NewHunterVerifierSource creates a HunterVerifierSource.
func NewHunterVerifierSource(client hunter.Client, calc *cost.Calculator) *HunterVerifierSource {
	return &HunterVerifierSource{client: client, calc: calc}
}

// Name implements waterfall.Source.
func (s *HunterVerifierSource) Name() string { return model.SourceHunterVerify }

// Free implements waterfall.Source.
func (s *HunterVerifierSource) Free() bool { return false }

// EstimateCost implements waterfall.Source.
func (s *HunterVerifierSource) EstimateCost(string) float64 { return s.calc.HunterVerify(1) }

// Fetch implements waterfall.Source.
func (s *HunterVerifierSource) Fetch(ctx context.Context, email string) (verdictBatch, error) {
	res, err := s.client.VerifyEmail(ctx, email)
	if err != nil {
		return verdictBatch{}, err
	}
	v := Verdict{
		Email:       email,
		Deliverable: res.Deliverable(),
		Conclusive:  res.Status == "valid" || res.Status == "invalid" || res.Result == "undeliverable",
		Confidence:  res.Score,
		Result:      res.Status,
		Source:      model.SourceHunterVerify,
	}
	return verdictBatch{Items: []Verdict{v}, Cost: s.calc.HunterVerify(1)}, nil
}

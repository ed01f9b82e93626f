package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/budget"
	"github.com/sells-group/lead-pipeline/internal/cache"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/resilience"
	"github.com/sells-group/lead-pipeline/internal/tier"
	"github.com/sells-group/lead-pipeline/internal/waterfall"
	"github.com/sells-group/lead-pipeline/pkg/hunter"
	huntermocks "github.com/sells-group/lead-pipeline/pkg/hunter/mocks"
	"github.com/sells-group/lead-pipeline/pkg/neverbounce"
	nbmocks "github.com/sells-group/lead-pipeline/pkg/neverbounce/mocks"
	"github.com/sells-group/lead-pipeline/pkg/pdl"
	pdlmocks "github.com/sells-group/lead-pipeline/pkg/pdl/mocks"
)

func testOptions() Options {
	return Options{
		Chain: waterfall.Options{
			HighConfidence: waterfall.DefaultHighConfidence,
			CallTimeout:    time.Second,
			Retry:          resilience.RetryConfig{MaxAttempts: 1},
		},
	}
}

func acme() model.ScoredLead {
	return model.ScoredLead{ID: "l1", BusinessName: "Acme Plumbing", Website: "https://www.acme.com", OptimizedScore: 72}
}

func TestEnrich_NoDomain(t *testing.T) {
	e := New(Clients{Hunter: huntermocks.NewMockClient(t)}, calc(), nil, nil, testOptions())
	lead := acme()
	lead.Website = ""

	res := e.Enrich(context.Background(), lead, tier.Features{VerifyEmails: true}, budget.NewLedger(1, 0))

	assert.Equal(t, model.EmailNotFound, res.Lead.Enhancement.EmailStatus)
	assert.Nil(t, res.Lead.Email)
	assert.Zero(t, res.Cost())
}

func TestEnrich_UnverifiedTier(t *testing.T) {
	h := huntermocks.NewMockClient(t)
	h.On("DomainSearch", mock.Anything, "acme.com", 10).Return(&hunter.DomainSearchResult{
		Emails: []hunter.Email{{Value: "office@acme.com", Type: "generic", Confidence: 85}},
	}, nil)

	e := New(Clients{Hunter: h}, calc(), nil, nil, testOptions())
	res := e.Enrich(context.Background(), acme(), tier.Features{}, budget.NewLedger(1, 0))

	lead := res.Lead
	assert.Nil(t, lead.Email, "only verified addresses fill the primary email")
	assert.Equal(t, model.EmailUnconfirmed, lead.Enhancement.EmailStatus)
	assert.Equal(t, "office@acme.com", lead.Enhancement.CandidateEmail)
	assert.Equal(t, "acme.com", lead.Enhancement.Domain)
	assert.Len(t, lead.Enhancement.Emails, 11)
	assert.Equal(t, []string{model.SourcePattern, model.SourceHunter}, res.SourcesUsed)
	assert.Equal(t, map[string]float64{model.SourceHunter: 0.034}, lead.Enhancement.CostBreakdown)
	assert.Contains(t, lead.DataSources, model.SourceHunter)
	assert.InDelta(t, 72, lead.OptimizedScore, 1e-9)
}

func TestEnrich_OwnerLookupAndVerify(t *testing.T) {
	h := huntermocks.NewMockClient(t)
	nb := nbmocks.NewMockClient(t)
	h.On("DomainSearch", mock.Anything, "acme.com", 10).Return(&hunter.DomainSearchResult{
		Emails: []hunter.Email{{Value: "john@acme.com", Type: "personal", Confidence: 70, FirstName: "John", LastName: "Smith", Position: "Owner"}},
	}, nil)
	h.On("EmailFinder", mock.Anything, "acme.com", "John", "Smith").
		Return(&hunter.EmailFinderResult{Email: "john@acme.com", Score: 92, FirstName: "John", LastName: "Smith"}, nil)
	nb.On("Check", mock.Anything, "john@acme.com").Return(&neverbounce.CheckResult{Status: "success", Result: neverbounce.ResultValid}, nil)

	opts := testOptions()
	opts.MaxVerify = 1
	e := New(Clients{Hunter: h, NeverBounce: nb}, calc(), nil, nil, opts)
	res := e.Enrich(context.Background(), acme(), tier.Features{VerifyEmails: true}, budget.NewLedger(1, 0))

	lead := res.Lead
	require.NotNil(t, lead.Email)
	assert.Equal(t, "john@acme.com", *lead.Email)
	assert.Equal(t, model.EmailVerified, lead.Enhancement.EmailStatus)
	assert.True(t, res.Verified())
	assert.Equal(t, "John Smith", lead.Enhancement.OwnerName)
	assert.Equal(t, "Owner", lead.Enhancement.OwnerTitle)
	assert.InDelta(t, 0.034+0.034+0.008, res.Cost(), 1e-9)
	assert.Contains(t, lead.Enhancement.VerificationSources, model.SourceNeverBounce)
	assert.Contains(t, lead.Enhancement.VerificationSources, model.SourceHunterFinder)
}

func TestEnrich_VerifierFallbackAndRejection(t *testing.T) {
	h := huntermocks.NewMockClient(t)
	nb := nbmocks.NewMockClient(t)
	h.On("DomainSearch", mock.Anything, "acme.com", 10).Return(&hunter.DomainSearchResult{
		Emails: []hunter.Email{
			{Value: "a@acme.com", Type: "generic", Confidence: 70},
			{Value: "b@acme.com", Type: "generic", Confidence: 65},
		},
	}, nil)
	nb.On("Check", mock.Anything, "a@acme.com").Return(&neverbounce.CheckResult{Result: neverbounce.ResultInvalid}, nil)
	nb.On("Check", mock.Anything, "b@acme.com").Return(&neverbounce.CheckResult{Result: neverbounce.ResultCatchAll}, nil)
	h.On("VerifyEmail", mock.Anything, "b@acme.com").Return(&hunter.VerifyResult{Status: "valid", Result: "deliverable", Score: 95}, nil)

	opts := testOptions()
	opts.MaxVerify = 2
	e := New(Clients{Hunter: h, NeverBounce: nb}, calc(), nil, nil, opts)
	res := e.Enrich(context.Background(), acme(), tier.Features{VerifyEmails: true}, budget.NewLedger(1, 0))

	lead := res.Lead
	require.NotNil(t, lead.Email)
	assert.Equal(t, "b@acme.com", *lead.Email)
	for _, c := range lead.Enhancement.Emails {
		assert.NotEqual(t, "a@acme.com", c.Value, "rejected addresses are dropped")
		if c.Value == "b@acme.com" {
			assert.True(t, c.Verified)
			assert.Equal(t, 95, c.Confidence)
			assert.Contains(t, c.Sources, model.SourceHunterVerify)
		}
	}
	assert.InDelta(t, 0.034+0.016+0.01, res.Cost(), 1e-9)
}

func TestEnrich_PersonEnrichment(t *testing.T) {
	h := huntermocks.NewMockClient(t)
	p := pdlmocks.NewMockClient(t)
	h.On("DomainSearch", mock.Anything, "acme.com", 10).Return(&hunter.DomainSearchResult{
		Emails: []hunter.Email{{Value: "john@acme.com", Type: "personal", Confidence: 70, FirstName: "John", LastName: "Smith", Position: "Owner"}},
	}, nil)
	p.On("EnrichPerson", mock.Anything, pdl.PersonRequest{Email: "john@acme.com", Company: "Acme Plumbing", MinLikelihood: 6}).
		Return(&pdl.Person{Likelihood: 8, FullName: "John Q Smith", FirstName: "John", LastName: "Smith", JobTitle: "Founder", WorkEmail: "john@acme.com"}, nil)

	e := New(Clients{Hunter: h, PDL: p}, calc(), nil, nil, testOptions())
	res := e.Enrich(context.Background(), acme(), tier.Features{PersonEnrichment: true}, budget.NewLedger(1, 0))

	lead := res.Lead
	assert.Equal(t, "John Q Smith", lead.Enhancement.OwnerName)
	assert.Equal(t, "Owner", lead.Enhancement.OwnerTitle)
	assert.Equal(t, "john@acme.com", lead.Enhancement.CandidateEmail)
	assert.InDelta(t, 0.034+0.28, res.Cost(), 1e-9)
	assert.Contains(t, res.SourcesUsed, model.SourcePDL)
}

func TestEnrich_BudgetExhausted(t *testing.T) {
	h := huntermocks.NewMockClient(t)
	e := New(Clients{Hunter: h}, calc(), nil, nil, testOptions())

	ledger := budget.NewLedger(0.005, 0)
	res := e.Enrich(context.Background(), acme(), tier.Features{VerifyEmails: true}, ledger)

	// Domain search, then the first verification.
	assert.Equal(t, 2, res.Skipped[waterfall.SkipBudget])
	assert.Zero(t, ledger.Spent())
	assert.Equal(t, model.EmailUnconfirmed, res.Lead.Enhancement.EmailStatus)
	assert.Equal(t, "info@acme.com", res.Lead.Enhancement.CandidateEmail)
}

func TestEnrich_SharedDomainCache(t *testing.T) {
	h := huntermocks.NewMockClient(t)
	h.On("DomainSearch", mock.Anything, "acme.com", 10).Return(&hunter.DomainSearchResult{
		Emails: []hunter.Email{{Value: "office@acme.com", Type: "generic", Confidence: 85}},
	}, nil).Once()

	opts := testOptions()
	opts.CacheTTL = time.Hour
	e := New(Clients{Hunter: h, Cache: cache.NewMemory()}, calc(), nil, nil, opts)

	first := e.Enrich(context.Background(), acme(), tier.Features{}, budget.NewLedger(1, 0))
	second := e.Enrich(context.Background(), acme(), tier.Features{}, budget.NewLedger(1, 0))

	assert.InDelta(t, 0.034, first.Cost(), 1e-9)
	assert.Zero(t, second.Cost())
	assert.Equal(t, "office@acme.com", second.Lead.Enhancement.CandidateEmail)
}

func TestPickOwner(t *testing.T) {
	got := pickOwner([]model.EmailCandidate{
		{Value: "x@a.com", FirstName: "X", LastName: "Y", Position: "Technician", Confidence: 95},
		{Value: "info@a.com", Confidence: 99},
		{Value: "jo@a.com", FirstName: "Jo", LastName: "Lee", Position: "Co-Founder", Confidence: 60},
	})
	assert.Equal(t, "Jo Lee", got.name())
	assert.Equal(t, "jo@a.com", got.email)

	assert.Empty(t, pickOwner(nil).name())
}

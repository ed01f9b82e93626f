package discovery

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/budget"
	"github.com/sells-group/lead-pipeline/internal/config"
	"github.com/sells-group/lead-pipeline/internal/cost"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/resilience"
	"github.com/sells-group/lead-pipeline/internal/scorer"
	"github.com/sells-group/lead-pipeline/internal/waterfall"
	"github.com/sells-group/lead-pipeline/pkg/foursquare"
	fsqmocks "github.com/sells-group/lead-pipeline/pkg/foursquare/mocks"
	"github.com/sells-group/lead-pipeline/pkg/google"
	googlemocks "github.com/sells-group/lead-pipeline/pkg/google/mocks"
)

func newDirectory(g google.Client, f foursquare.Client, details bool) *Directory {
	return newChain(nil, g, f, details)
}

func newChain(st ReusableLeadStore, g google.Client, f foursquare.Client, details bool, opts ...Option) *Directory {
	calc := cost.NewCalculator(cost.DefaultRates())
	var sources []waterfall.Source[Query, model.DiscoveredRecord]
	if st != nil {
		sources = append(sources, NewCachedSource(st))
	}
	sources = append(sources,
		NewGoogleSource(g, calc, details, WithPageDelay(0)),
		NewFoursquareSource(f, calc),
	)
	engine := waterfall.New[Query, model.DiscoveredRecord](ChainName, Merger{}, nil, waterfall.Options{
		Ordered:     true,
		CallTimeout: time.Second,
		Retry:       resilience.RetryConfig{MaxAttempts: 1},
	}, sources...)
	return New(engine, opts...)
}

func paged(token string, start int, names ...string) *google.TextSearchResponse {
	resp := places(names...)
	for i := range resp.Results {
		resp.Results[i].FormattedAddress = fmt.Sprintf("%d Main St, Austin, TX", start+i)
	}
	resp.NextPageToken = token
	return resp
}

func emptyFoursquare() *foursquare.SearchResponse { return &foursquare.SearchResponse{} }

func places(names ...string) *google.TextSearchResponse {
	resp := &google.TextSearchResponse{Status: "OK"}
	for i, n := range names {
		resp.Results = append(resp.Results, google.Place{
			PlaceID:          "pid-" + n,
			Name:             n,
			FormattedAddress: string(rune('1'+i)) + " Main St, Austin, TX",
			Rating:           4.5,
		})
	}
	return resp
}

func TestQuery_Text(t *testing.T) {
	q := Query{BusinessType: "plumber", Keywords: []string{"emergency", " "}, Location: "Austin, TX"}
	assert.Equal(t, "plumber emergency in Austin, TX", q.Text())
	assert.Equal(t, "plumber emergency", q.Terms())
}

func TestDirectory_GoogleSatisfiesCap(t *testing.T) {
	g := googlemocks.NewMockClient(t)
	f := fsqmocks.NewMockClient(t)
	g.On("TextSearch", mock.Anything, "plumber in Austin, TX").Return(places("a", "b", "c", "d"), nil)

	d := newDirectory(g, f, false)
	ledger := budget.NewLedger(1, 0)
	res, err := d.Discover(context.Background(), Query{BusinessType: "plumber", Location: "Austin, TX"}, 3, ledger)

	require.NoError(t, err)
	assert.Len(t, res.Records, 4)
	assert.Equal(t, waterfall.StopCap, res.Outcome.StopReason)
	assert.Equal(t, []string{model.SourceGooglePlaces}, res.Outcome.SourcesUsed)
	assert.InDelta(t, 0.032, ledger.Spent(), 1e-9)
}

func TestDirectory_FoursquareFillsShortfall(t *testing.T) {
	g := googlemocks.NewMockClient(t)
	f := fsqmocks.NewMockClient(t)
	g.On("TextSearch", mock.Anything, mock.Anything).Return(places("Acme Plumbing"), nil)
	f.On("Search", mock.Anything, foursquare.SearchRequest{Query: "plumber", Near: "Austin, TX", Limit: 6}).
		Return(&foursquare.SearchResponse{Results: []foursquare.Place{
			{FsqID: "f1", Name: "Acme Plumbing", Location: foursquare.Location{FormattedAddress: "1 Main St, Austin, TX"}, Tel: "555-0100", Rating: 8},
			{FsqID: "f2", Name: "Best Pipes", Location: foursquare.Location{Address: "9 Oak Ave", Locality: "Austin", Region: "TX"}, Rating: 7},
		}}, nil)

	d := newDirectory(g, f, false)
	res, err := d.Discover(context.Background(), Query{BusinessType: "plumber", Location: "Austin, TX"}, 5, budget.NewLedger(1, 0))

	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, []string{model.SourceGooglePlaces, model.SourceFoursquare}, res.Outcome.SourcesUsed)

	acme := res.Records[0]
	assert.Equal(t, "555-0100", acme.Phone)
	assert.ElementsMatch(t, []string{model.SourceGooglePlaces, model.SourceFoursquare}, acme.AllSources())

	best := res.Records[1]
	assert.Equal(t, "9 Oak Ave, Austin, TX", best.Address)
	assert.InDelta(t, 3.5, best.Rating, 1e-9)
}

func TestDirectory_GoogleFailureFallsBack(t *testing.T) {
	g := googlemocks.NewMockClient(t)
	f := fsqmocks.NewMockClient(t)
	g.On("TextSearch", mock.Anything, mock.Anything).
		Return(nil, resilience.NewProviderError("google_places", 503, eris.New("unavailable")))
	f.On("Search", mock.Anything, mock.Anything).
		Return(&foursquare.SearchResponse{Results: []foursquare.Place{{FsqID: "f1", Name: "Solo", Location: foursquare.Location{FormattedAddress: "2 Elm"}}}}, nil)

	d := newDirectory(g, f, false)
	ledger := budget.NewLedger(1, 0)
	res, err := d.Discover(context.Background(), Query{BusinessType: "plumber", Location: "Austin"}, 5, ledger)

	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Len(t, res.Outcome.Failed(), 1)
	assert.Zero(t, ledger.Spent())
}

func TestDirectory_NoResults(t *testing.T) {
	g := googlemocks.NewMockClient(t)
	f := fsqmocks.NewMockClient(t)
	g.On("TextSearch", mock.Anything, mock.Anything).Return(&google.TextSearchResponse{Status: "ZERO_RESULTS"}, nil)
	f.On("Search", mock.Anything, mock.Anything).Return(&foursquare.SearchResponse{}, nil)

	d := newDirectory(g, f, false)
	_, err := d.Discover(context.Background(), Query{BusinessType: "unicorn", Location: "Nowhere"}, 5, budget.NewLedger(1, 0))

	assert.True(t, eris.Is(err, ErrNoResults))
}

func TestDirectory_SlicesToTwiceMax(t *testing.T) {
	g := googlemocks.NewMockClient(t)
	f := fsqmocks.NewMockClient(t)
	g.On("TextSearch", mock.Anything, mock.Anything).Return(places("a", "b", "c", "d", "e", "f"), nil)

	d := newDirectory(g, f, false)
	res, err := d.Discover(context.Background(), Query{BusinessType: "cafe", Location: "Austin"}, 2, budget.NewLedger(1, 0))

	require.NoError(t, err)
	assert.Len(t, res.Records, 4)
}

func TestDirectory_DetailsLookups(t *testing.T) {
	g := googlemocks.NewMockClient(t)
	f := fsqmocks.NewMockClient(t)
	g.On("TextSearch", mock.Anything, mock.Anything).Return(places("a", "b"), nil)
	g.On("Details", mock.Anything, "pid-a").Return(&google.PlaceDetails{FormattedPhone: "555-0101", Website: "https://www.yelp.com/biz/a"}, nil)
	g.On("Details", mock.Anything, "pid-b").Return(nil, resilience.NewProviderError("google_places", 404, eris.New("not found")))

	d := newDirectory(g, f, true)
	ledger := budget.NewLedger(1, 0)
	res, err := d.Discover(context.Background(), Query{BusinessType: "cafe", Location: "Austin"}, 1, ledger)

	require.NoError(t, err)
	require.Len(t, res.Records, 2)

	a := res.Records[0]
	assert.True(t, a.DetailEnriched)
	assert.Equal(t, model.SourceGoogleDetails, a.Source)
	assert.Equal(t, "555-0101", a.Phone)
	assert.Empty(t, a.Website, "directory listing URLs are not business websites")

	assert.False(t, res.Records[1].DetailEnriched)
	assert.InDelta(t, 0.032+0.017, ledger.Spent(), 1e-9)
}

func TestDirectory_Cap(t *testing.T) {
	d := New(nil)
	assert.Equal(t, 6, d.Cap(5))
	assert.Equal(t, 12, d.Cap(10))

	d = New(nil, WithCapFactor(2))
	assert.Equal(t, 10, d.Cap(5))
}

func TestIsDirectoryURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.yelp.com/biz/acme", true},
		{"m.facebook.com/acme", true},
		{"https://acmeplumbing.com", false},
		{"", false},
		{"https://notyelp.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, isDirectoryURL(tt.url, DefaultBlocklist))
		})
	}
}

func TestDirectory_OverFetch(t *testing.T) {
	g := googlemocks.NewMockClient(t)
	f := fsqmocks.NewMockClient(t)
	g.On("TextSearch", mock.Anything, mock.Anything).Return(places("a", "b", "c", "d", "e", "f"), nil)

	sc := scorer.New(config.ScorerConfig{OverFetchFactor: 1.25})
	d := newChain(nil, g, f, false, WithOverFetch(sc.OverFetch))
	res, err := d.Discover(context.Background(), Query{BusinessType: "cafe", Location: "Austin"}, 4, budget.NewLedger(1, 0))

	require.NoError(t, err)
	assert.Len(t, res.Records, 5)
}

func TestDirectory_ReusesCachedLeads(t *testing.T) {
	g := googlemocks.NewMockClient(t)
	f := fsqmocks.NewMockClient(t)
	st := &reusableStore{leads: map[string][]model.ScoredLead{
		"hash-a": {
			{BusinessName: "Acme Plumbing", Address: "1 Main St, Austin, TX", Phone: "555-0100", Rating: 4.8, DataSources: []string{model.SourceGooglePlaces, model.SourceHunter}},
			{BusinessName: "Best Pipes", Address: "9 Oak Ave, Austin, TX", Website: "https://bestpipes.com"},
			{BusinessName: "Drain Co", Address: "3 Elm St, Austin, TX"},
		},
	}}

	d := newChain(st, g, f, false)
	ledger := budget.NewLedger(1, 0)
	res, err := d.Discover(context.Background(), Query{BusinessType: "plumber", Location: "Austin, TX", CampaignHash: "hash-a"}, 2, ledger)

	require.NoError(t, err)
	require.Len(t, res.Records, 3)
	assert.Equal(t, 3, res.Reused())
	assert.Equal(t, waterfall.StopCap, res.Outcome.StopReason)
	assert.Equal(t, []string{model.SourceCachedReuse}, res.Outcome.SourcesUsed)
	assert.Zero(t, ledger.Spent())
	assert.Equal(t, []int{30}, st.limits)

	acme := res.Records[0]
	assert.Equal(t, model.SourceCachedReuse, acme.Source)
	assert.True(t, acme.DetailEnriched)
	assert.ElementsMatch(t, []string{model.SourceCachedReuse, model.SourceGooglePlaces}, acme.AllSources())
	assert.Equal(t, "555-0100", acme.Phone)
}

func TestDirectory_CachedLeadsMergeWithFreshResults(t *testing.T) {
	g := googlemocks.NewMockClient(t)
	f := fsqmocks.NewMockClient(t)
	st := &reusableStore{leads: map[string][]model.ScoredLead{
		"hash-a": {{BusinessName: "a", Address: "1 Main St, Austin, TX", Phone: "555-0100"}},
	}}
	g.On("TextSearch", mock.Anything, "plumber in Austin, TX").Return(places("a", "b", "c"), nil)
	f.On("Search", mock.Anything, mock.Anything).Return(emptyFoursquare(), nil)

	d := newChain(st, g, f, false)
	res, err := d.Discover(context.Background(), Query{BusinessType: "plumber", Location: "Austin, TX", CampaignHash: "hash-a"}, 4, budget.NewLedger(1, 0))

	require.NoError(t, err)
	require.Len(t, res.Records, 3)
	assert.Equal(t, 1, res.Reused())
	assert.ElementsMatch(t, []string{model.SourceCachedReuse, model.SourceGooglePlaces}, res.Records[0].AllSources())
	assert.Equal(t, "555-0100", res.Records[0].Phone)
}

func TestDirectory_NoCampaignHashSkipsReuse(t *testing.T) {
	g := googlemocks.NewMockClient(t)
	f := fsqmocks.NewMockClient(t)
	st := &reusableStore{}
	g.On("TextSearch", mock.Anything, mock.Anything).Return(places("a", "b"), nil)

	d := newChain(st, g, f, false)
	_, err := d.Discover(context.Background(), Query{BusinessType: "plumber", Location: "Austin, TX"}, 1, budget.NewLedger(1, 0))

	require.NoError(t, err)
	assert.Zero(t, st.calls)
}

func TestDirectory_ExpansionPasses(t *testing.T) {
	g := googlemocks.NewMockClient(t)
	f := fsqmocks.NewMockClient(t)
	g.On("TextSearch", mock.Anything, "plumber in Austin, TX").Return(paged("tok", 1, "a", "b"), nil).Once()
	g.On("NextPage", mock.Anything, "tok").Return(paged("", 3, "c", "d"), nil).Once()
	g.On("TextSearch", mock.Anything, "plumber in TX").Return(paged("", 5, "e", "f", "g"), nil).Once()
	f.On("Search", mock.Anything, mock.Anything).Return(emptyFoursquare(), nil)

	d := newChain(nil, g, f, false, WithExpansion(DefaultExpansion))
	ledger := budget.NewLedger(1, 0)
	res, err := d.Discover(context.Background(), Query{BusinessType: "plumber", Location: "Austin, TX"}, 5, ledger)

	require.NoError(t, err)
	assert.Equal(t, 5, res.Passes)
	assert.Len(t, res.Records, 7)
	assert.InDelta(t, 3*0.032, res.Outcome.CostBySource[model.SourceGooglePlaces], 1e-9)
	assert.InDelta(t, 3*0.032, ledger.Spent(), 1e-9)

	var limits []int
	for _, c := range f.Calls {
		limits = append(limits, c.Arguments.Get(1).(foursquare.SearchRequest).Limit)
	}
	assert.Equal(t, []int{6, 12, 18, 24, 30}, limits)
	assert.Equal(t, "TX", f.Calls[4].Arguments.Get(1).(foursquare.SearchRequest).Near)
}

func TestDirectory_ExpansionStopsOnBudget(t *testing.T) {
	g := googlemocks.NewMockClient(t)
	f := fsqmocks.NewMockClient(t)
	g.On("TextSearch", mock.Anything, "plumber in Austin, TX").Return(places("a", "b"), nil).Once()
	f.On("Search", mock.Anything, mock.Anything).Return(emptyFoursquare(), nil)

	d := newChain(nil, g, f, false, WithExpansion([]Pass{{Factor: 2, Wider: true}, {Factor: 3, Wider: true}}))
	res, err := d.Discover(context.Background(), Query{BusinessType: "plumber", Location: "Austin, TX"}, 5, budget.NewLedger(0.04, 0))

	require.NoError(t, err)
	assert.Equal(t, 2, res.Passes)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, waterfall.StopBudgetExhausted, res.Outcome.StopReason)
	assert.Equal(t, []string{model.SourceGooglePlaces}, res.Outcome.Skipped()[waterfall.SkipBudget])
}

func TestDirectory_ExpansionSkippedWhenTargetMet(t *testing.T) {
	g := googlemocks.NewMockClient(t)
	f := fsqmocks.NewMockClient(t)
	g.On("TextSearch", mock.Anything, mock.Anything).Return(places("a", "b", "c"), nil).Once()

	d := newChain(nil, g, f, false, WithExpansion(DefaultExpansion))
	res, err := d.Discover(context.Background(), Query{BusinessType: "plumber", Location: "Austin, TX"}, 2, budget.NewLedger(1, 0))

	require.NoError(t, err)
	assert.Equal(t, 1, res.Passes)
}

func TestWiderLocation(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Austin, TX", "TX"},
		{"Austin, TX 78701", "TX"},
		{"Portland, Oregon, USA", "Oregon"},
		{"Austin", ""},
		{"Austin, 78701", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, WiderLocation(tt.in))
		})
	}
}

func TestGoogleSource_DetailsFailuresTripBreaker(t *testing.T) {
	g := googlemocks.NewMockClient(t)
	g.On("TextSearch", mock.Anything, mock.Anything).Return(places("a", "b", "c", "d"), nil)
	g.On("Details", mock.Anything, mock.Anything).
		Return(nil, resilience.NewProviderError(model.SourceGoogleDetails, http.StatusServiceUnavailable, eris.New("unavailable")))

	reg := resilience.NewRegistry(resilience.BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})
	src := NewGoogleSource(g, cost.NewCalculator(cost.DefaultRates()), true, WithDetailBreakers(reg))

	batch, err := src.Fetch(context.Background(), Query{BusinessType: "cafe", Location: "Austin", Limit: 4})

	require.NoError(t, err)
	assert.Len(t, batch.Items, 4)
	assert.InDelta(t, 0.032, batch.Cost, 1e-9)
	g.AssertNumberOfCalls(t, "Details", 2)
	assert.Equal(t, resilience.Open, reg.State(model.SourceGoogleDetails))
}

func TestGoogleSource_DetailsNotFoundLeavesBreakerClosed(t *testing.T) {
	g := googlemocks.NewMockClient(t)
	g.On("TextSearch", mock.Anything, mock.Anything).Return(places("a", "b", "c"), nil)
	g.On("Details", mock.Anything, mock.Anything).
		Return(nil, resilience.NewProviderError(model.SourceGoogleDetails, http.StatusNotFound, eris.New("not found")))

	reg := resilience.NewRegistry(resilience.BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})
	src := NewGoogleSource(g, cost.NewCalculator(cost.DefaultRates()), true, WithDetailBreakers(reg))

	_, err := src.Fetch(context.Background(), Query{BusinessType: "cafe", Location: "Austin", Limit: 3})

	require.NoError(t, err)
	g.AssertNumberOfCalls(t, "Details", 3)
	assert.Equal(t, resilience.Closed, reg.State(model.SourceGoogleDetails))
}

func TestGoogleSource_PagesUpToLimit(t *testing.T) {
	g := googlemocks.NewMockClient(t)
	g.On("TextSearch", mock.Anything, mock.Anything).Return(paged("t1", 1, "a", "b"), nil).Once()
	g.On("NextPage", mock.Anything, "t1").Return(paged("t2", 3, "c", "d"), nil).Once()

	src := NewGoogleSource(g, cost.NewCalculator(cost.DefaultRates()), false, WithPageDelay(0))
	q := Query{BusinessType: "cafe", Location: "Austin", Limit: 30, state: newSearchState()}

	assert.InDelta(t, 2*0.032, src.EstimateCost(q), 1e-9)
	batch, err := src.Fetch(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, batch.Items, 4)
	assert.InDelta(t, 2*0.032, batch.Cost, 1e-9)

	// same limit again: nothing left to fetch
	assert.Zero(t, src.EstimateCost(q))
	batch, err = src.Fetch(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, batch.Items)
}

func TestGoogleSource_NextPageFailureKeepsFirstPage(t *testing.T) {
	g := googlemocks.NewMockClient(t)
	g.On("TextSearch", mock.Anything, mock.Anything).Return(paged("t1", 1, "a", "b"), nil).Once()
	g.On("NextPage", mock.Anything, "t1").
		Return(nil, resilience.NewProviderError(model.SourceGooglePlaces, http.StatusBadRequest, eris.New("INVALID_REQUEST"))).Once()

	src := NewGoogleSource(g, cost.NewCalculator(cost.DefaultRates()), false, WithPageDelay(0))
	batch, err := src.Fetch(context.Background(), Query{BusinessType: "cafe", Location: "Austin", Limit: 40, state: newSearchState()})

	require.NoError(t, err)
	assert.Len(t, batch.Items, 2)
	assert.InDelta(t, 0.032, batch.Cost, 1e-9)
}

func TestFoursquareSource_SkipsRepeatLimit(t *testing.T) {
	f := fsqmocks.NewMockClient(t)
	f.On("Search", mock.Anything, foursquare.SearchRequest{Query: "cafe", Near: "Austin", Limit: 10}).Return(emptyFoursquare(), nil).Once()

	src := NewFoursquareSource(f, cost.NewCalculator(cost.DefaultRates()))
	q := Query{BusinessType: "cafe", Location: "Austin", Limit: 10, state: newSearchState()}

	_, err := src.Fetch(context.Background(), q)
	require.NoError(t, err)
	q.Limit = 8
	_, err = src.Fetch(context.Background(), q)
	require.NoError(t, err)
}

func TestCachedSource_StoreError(t *testing.T) {
	src := NewCachedSource(&reusableStore{err: eris.New("db down")})
	_, err := src.Fetch(context.Background(), Query{CampaignHash: "hash-a", Limit: 10, state: newSearchState()})
	require.Error(t, err)
}

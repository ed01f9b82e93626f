package discovery

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/cost"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/resilience"
	"github.com/sells-group/lead-pipeline/internal/waterfall"
	"github.com/sells-group/lead-pipeline/pkg/google"
)

const (
	// googlePageSize is the number of results one text search page returns.
	googlePageSize = 20
	// googleMaxPages is how many pages Google serves for one query.
	googleMaxPages = 3
	// googlePageDelay is how long a next_page_token takes to become valid.
	googlePageDelay = 2 * time.Second
)

// GoogleSource searches Google Places and, when enabled, fills phone and
// website through place details lookups.
type GoogleSource struct {
	client    google.Client
	calc      *cost.Calculator
	details   bool
	breakers  *resilience.Registry
	pageDelay time.Duration
}

// GoogleOption configures a GoogleSource.
type GoogleOption func(*GoogleSource)

// WithDetailBreakers reports place details outcomes to the
// google_place_details breaker in r and skips lookups while it is open.
func WithDetailBreakers(r *resilience.Registry) GoogleOption {
	return func(s *GoogleSource) { s.breakers = r }
}

// WithPageDelay sets the wait before a next-page request.
func WithPageDelay(d time.Duration) GoogleOption {
	return func(s *GoogleSource) {
		if d >= 0 {
			s.pageDelay = d
		}
	}
}

// NewGoogleSource creates the primary directory source.
func NewGoogleSource(client google.Client, calc *cost.Calculator, details bool, opts ...GoogleOption) *GoogleSource {
	s := &GoogleSource{client: client, calc: calc, details: details, pageDelay: googlePageDelay}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name implements waterfall.Source.
func (s *GoogleSource) Name() string { return model.SourceGooglePlaces }

// Free implements waterfall.Source.
func (s *GoogleSource) Free() bool { return false }

// EstimateCost covers the search pages still to fetch for the query plus,
// with details on, one lookup per record the chain may keep.
func (s *GoogleSource) EstimateCost(q Query) float64 {
	cur := q.state.cursor(q.Text())
	pages := pagesWanted(q, cur)
	if pages == 0 {
		return 0
	}
	est := s.calc.GoogleSearch(pages)
	if s.details {
		est += s.calc.GoogleDetails(min(pages*googlePageSize, detailAllowance(q, cur)))
	}
	return est
}

// pagesWanted is how many more pages the query's limit calls for.
func pagesWanted(q Query, cur *googleCursor) int {
	if cur.done {
		return 0
	}
	want := 1
	if q.Limit > googlePageSize {
		want = (q.Limit + googlePageSize - 1) / googlePageSize
	}
	return max(min(want, googleMaxPages)-cur.pages, 0)
}

// detailAllowance is how many more details lookups the query's limit allows.
func detailAllowance(q Query, cur *googleCursor) int {
	limit := q.Limit
	if limit <= 0 {
		limit = googlePageSize * googleMaxPages
	}
	return max(limit-cur.detailed, 0)
}

// Fetch implements waterfall.Source. Repeat calls within one Discover
// continue from the last page fetched. A failed details lookup keeps the
// search record and is not billed.
func (s *GoogleSource) Fetch(ctx context.Context, q Query) (waterfall.Batch[model.DiscoveredRecord], error) {
	cur := q.state.cursor(q.Text())
	pages := pagesWanted(q, cur)
	batch := waterfall.Batch[model.DiscoveredRecord]{}

	var places []google.Place
	for i := 0; i < pages; i++ {
		resp, err := s.page(ctx, q, cur)
		if err != nil {
			if i == 0 {
				return batch, err
			}
			zap.L().Debug("discovery: next page failed",
				zap.String("query", q.Text()),
				zap.Int("page", cur.pages+1),
				zap.Error(err),
			)
			break
		}
		cur.pages++
		batch.Cost += s.calc.GoogleSearch(1)
		places = append(places, resp.Results...)
		cur.next = resp.NextPageToken
		if cur.next == "" || cur.pages >= googleMaxPages {
			cur.done = true
			break
		}
	}

	for _, p := range places {
		rec := model.DiscoveredRecord{
			Name:             p.Name,
			Address:          p.FormattedAddress,
			Rating:           p.Rating,
			RatingCount:      p.UserRatingsTotal,
			ProviderRecordID: p.PlaceID,
			Source:           model.SourceGooglePlaces,
			Types:            p.Types,
		}
		if s.details && p.PlaceID != "" && detailAllowance(q, cur) > 0 && ctx.Err() == nil {
			if s.lookupDetails(ctx, &rec, cur) {
				batch.Cost += s.calc.GoogleDetails(1)
			}
		}
		batch.Items = append(batch.Items, rec)
	}
	return batch, nil
}

func (s *GoogleSource) page(ctx context.Context, q Query, cur *googleCursor) (*google.TextSearchResponse, error) {
	if cur.pages == 0 {
		return s.client.TextSearch(ctx, q.Text())
	}
	t := time.NewTimer(s.pageDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
	}
	return s.client.NextPage(ctx, cur.next)
}

// lookupDetails fills rec from place details. It reports whether a billed
// lookup succeeded.
func (s *GoogleSource) lookupDetails(ctx context.Context, rec *model.DiscoveredRecord, cur *googleCursor) bool {
	if s.breakers != nil && !s.breakers.IsAvailable(model.SourceGoogleDetails) {
		return false
	}
	cur.detailed++

	d, err := s.client.Details(ctx, rec.ProviderRecordID)
	if err != nil {
		if s.breakers != nil && ctx.Err() == nil && resilience.StatusCode(err) != http.StatusNotFound {
			s.breakers.RecordFailure(model.SourceGoogleDetails)
		}
		zap.L().Debug("discovery: place details failed",
			zap.String("place_id", rec.ProviderRecordID),
			zap.Error(err),
		)
		return false
	}
	if s.breakers != nil {
		s.breakers.RecordSuccess(model.SourceGoogleDetails)
	}

	rec.Phone = d.Phone()
	rec.Website = d.Website
	if d.UserRatingsTotal > rec.RatingCount {
		rec.RatingCount = d.UserRatingsTotal
	}
	rec.Source = model.SourceGoogleDetails
	rec.DetailEnriched = true
	rec.Sources = []string{model.SourceGooglePlaces}
	return true
}

package discovery

import (
	"context"
	"strings"

	"github.com/sells-group/lead-pipeline/internal/cost"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/waterfall"
	"github.com/sells-group/lead-pipeline/pkg/foursquare"
)

const (
	foursquareMinLimit = 5
	foursquareMaxLimit = 30
)

// FoursquareSource is the fallback directory source.
type FoursquareSource struct {
	client foursquare.Client
	calc   *cost.Calculator
}

// NewFoursquareSource creates the fallback directory source.
func NewFoursquareSource(client foursquare.Client, calc *cost.Calculator) *FoursquareSource {
	return &FoursquareSource{client: client, calc: calc}
}

// Name implements waterfall.Source.
func (s *FoursquareSource) Name() string { return model.SourceFoursquare }

// Free implements waterfall.Source.
func (s *FoursquareSource) Free() bool { return s.calc.FoursquareSearch() == 0 }

// EstimateCost implements waterfall.Source. A search already run at the
// same or a larger limit costs nothing.
func (s *FoursquareSource) EstimateCost(q Query) float64 {
	if _, repeat := s.limit(q); repeat {
		return 0
	}
	return s.calc.FoursquareSearch()
}

func (s *FoursquareSource) limit(q Query) (int, bool) {
	limit := min(max(q.Limit, foursquareMinLimit), foursquareMaxLimit)
	return limit, limit <= q.state.foursquareLimit(foursquareKey(q))
}

func foursquareKey(q Query) string { return q.Terms() + "|" + q.Location }

// Fetch implements waterfall.Source. Foursquare rates places 0-10; ratings
// are halved onto the five-star scale Google uses.
func (s *FoursquareSource) Fetch(ctx context.Context, q Query) (waterfall.Batch[model.DiscoveredRecord], error) {
	limit, repeat := s.limit(q)
	if repeat {
		return waterfall.Batch[model.DiscoveredRecord]{}, nil
	}
	resp, err := s.client.Search(ctx, foursquare.SearchRequest{
		Query: q.Terms(),
		Near:  q.Location,
		Limit: limit,
	})
	if err != nil {
		return waterfall.Batch[model.DiscoveredRecord]{}, err
	}
	q.state.setFoursquareLimit(foursquareKey(q), limit)

	batch := waterfall.Batch[model.DiscoveredRecord]{Cost: s.calc.FoursquareSearch()}
	for _, p := range resp.Results {
		rec := model.DiscoveredRecord{
			Name:             p.Name,
			Address:          formatAddress(p.Location),
			Phone:            p.Tel,
			Website:          p.Website,
			Rating:           p.Rating / 2,
			ProviderRecordID: p.FsqID,
			Source:           model.SourceFoursquare,
		}
		if p.Stats != nil {
			rec.RatingCount = p.Stats.TotalRatings
		}
		for _, c := range p.Categories {
			rec.Types = append(rec.Types, c.Name)
		}
		batch.Items = append(batch.Items, rec)
	}
	return batch, nil
}

func formatAddress(l foursquare.Location) string {
	if l.FormattedAddress != "" {
		return l.FormattedAddress
	}
	return strings.Join(nonEmpty([]string{l.Address, l.Locality, l.Region, l.Postcode}), ", ")
}

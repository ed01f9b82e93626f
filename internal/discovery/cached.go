package discovery

import (
	"context"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/waterfall"
)

// reuseMinimum is the smallest number of prior leads read per campaign.
const reuseMinimum = 30

// ReusableLeadStore reads leads delivered by earlier completed campaigns.
type ReusableLeadStore interface {
	ReusableLeads(ctx context.Context, campaignHash string, limit int) ([]model.ScoredLead, error)
}

// CachedSource seeds the directory merge with leads from prior completed
// campaigns that share the query's campaign hash. It costs nothing and runs
// at most once per Discover call.
type CachedSource struct {
	store ReusableLeadStore
}

// NewCachedSource creates the cached-lead directory source.
func NewCachedSource(store ReusableLeadStore) *CachedSource {
	return &CachedSource{store: store}
}

// Name implements waterfall.Source.
func (s *CachedSource) Name() string { return model.SourceCachedReuse }

// Free implements waterfall.Source.
func (s *CachedSource) Free() bool { return true }

// EstimateCost implements waterfall.Source.
func (s *CachedSource) EstimateCost(Query) float64 { return 0 }

// Fetch implements waterfall.Source.
func (s *CachedSource) Fetch(ctx context.Context, q Query) (waterfall.Batch[model.DiscoveredRecord], error) {
	if q.CampaignHash == "" || q.state.reusedDone() {
		return waterfall.Batch[model.DiscoveredRecord]{}, nil
	}

	leads, err := s.store.ReusableLeads(ctx, q.CampaignHash, max(q.Limit*5, reuseMinimum))
	if err != nil {
		return waterfall.Batch[model.DiscoveredRecord]{}, err
	}
	q.state.markReused()

	batch := waterfall.Batch[model.DiscoveredRecord]{}
	for _, l := range leads {
		batch.Items = append(batch.Items, reusedRecord(l))
	}
	return batch, nil
}

// reusedRecord turns a delivered lead back into a listing. Only directory
// source tags survive; enrichment tags belong to the earlier job.
func reusedRecord(l model.ScoredLead) model.DiscoveredRecord {
	rec := model.DiscoveredRecord{
		Name:           l.BusinessName,
		Address:        l.Address,
		Phone:          l.Phone,
		Website:        l.Website,
		Rating:         l.Rating,
		Source:         model.SourceCachedReuse,
		DetailEnriched: true,
	}
	for _, src := range l.DataSources {
		switch src {
		case model.SourceGooglePlaces, model.SourceGoogleDetails, model.SourceFoursquare:
			rec.Sources = append(rec.Sources, src)
		}
	}
	return rec
}

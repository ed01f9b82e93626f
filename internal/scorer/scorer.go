package scorer

import (
	"math"
	"sort"
	"unicode/utf8"

	"github.com/sells-group/lead-pipeline/internal/config"
	"github.com/sells-group/lead-pipeline/internal/model"
)

// DefaultScorerConfig returns a config.ScorerConfig with equal component
// weights and the listing-source bonuses.
func DefaultScorerConfig() config.ScorerConfig {
	return config.ScorerConfig{
		NameWeight:    1,
		AddressWeight: 1,
		PhoneWeight:   1,
		WebsiteWeight: 1,
		RatingWeight:  1,

		RatingCap:            100,
		RatingPerStar:        20,
		DetailBonus:          4,
		FoursquareBonus:      6,
		RatingCountBonus:     5,
		RatingCountThreshold: 25,
		MultiSourceBonus:     5,

		OverFetchFactor: 2,
	}
}

// Scorer computes composite quality scores. It holds no state beyond its
// config and is safe for concurrent use.
type Scorer struct {
	cfg config.ScorerConfig
}

// New creates a Scorer. Zero weights in cfg fall back to the defaults.
func New(cfg config.ScorerConfig) *Scorer {
	d := DefaultScorerConfig()
	if cfg.NameWeight+cfg.AddressWeight+cfg.PhoneWeight+cfg.WebsiteWeight+cfg.RatingWeight <= 0 {
		cfg.NameWeight, cfg.AddressWeight, cfg.PhoneWeight = d.NameWeight, d.AddressWeight, d.PhoneWeight
		cfg.WebsiteWeight, cfg.RatingWeight = d.WebsiteWeight, d.RatingWeight
	}
	if cfg.RatingCap <= 0 {
		cfg.RatingCap = d.RatingCap
	}
	if cfg.RatingPerStar <= 0 {
		cfg.RatingPerStar = d.RatingPerStar
	}
	if cfg.OverFetchFactor < 1 {
		cfg.OverFetchFactor = d.OverFetchFactor
	}
	return &Scorer{cfg: cfg}
}

// Components holds the per-field scores of one record, each 0-100.
type Components struct {
	Name    float64
	Address float64
	Phone   float64
	Website float64
	Rating  float64
	Bonus   float64
}

// Components breaks r into its component scores.
func (s *Scorer) Components(r model.DiscoveredRecord) Components {
	c := Components{
		Name:    nameScore(r.Name),
		Address: presence(r.Address),
		Phone:   presence(r.Phone),
		Website: presence(r.Website),
		Rating:  math.Min(math.Max(r.Rating, 0)*s.cfg.RatingPerStar, s.cfg.RatingCap),
	}

	sources := r.AllSources()
	if r.DetailEnriched || contains(sources, model.SourceGoogleDetails) {
		c.Bonus += s.cfg.DetailBonus
	}
	if contains(sources, model.SourceFoursquare) {
		c.Bonus += s.cfg.FoursquareBonus
	}
	if r.RatingCount > s.cfg.RatingCountThreshold {
		c.Bonus += s.cfg.RatingCountBonus
	}
	if len(sources) > 1 {
		c.Bonus += s.cfg.MultiSourceBonus
	}
	return c
}

// Score returns the composite 0-100 score of r under the density multiplier.
// A non-positive multiplier is treated as 1.
func (s *Scorer) Score(r model.DiscoveredRecord, multiplier float64) int {
	if multiplier <= 0 {
		multiplier = 1
	}
	c := s.Components(r)
	w := s.cfg
	totalWeight := w.NameWeight + w.AddressWeight + w.PhoneWeight + w.WebsiteWeight + w.RatingWeight
	mean := (c.Name*w.NameWeight + c.Address*w.AddressWeight + c.Phone*w.PhoneWeight +
		c.Website*w.WebsiteWeight + c.Rating*w.RatingWeight) / totalWeight

	total := (mean + c.Bonus) * multiplier
	return int(math.Round(math.Min(math.Max(total, 0), 100)))
}

// RankOptions controls filtering and capping.
type RankOptions struct {
	MinConfidence int
	MaxResults    int
	Multiplier    float64
}

// RankSummary reports counts from a Rank call.
type RankSummary struct {
	Raw       int
	Unique    int
	Qualified int
	Returned  int
}

// Rank de-duplicates, scores, filters and caps records. Ties keep
// first-seen order.
func (s *Scorer) Rank(records []model.DiscoveredRecord, opts RankOptions) ([]model.ScoredLead, RankSummary) {
	unique := Dedupe(records)
	summary := RankSummary{Raw: len(records), Unique: len(unique)}

	leads := make([]model.ScoredLead, 0, len(unique))
	for _, r := range unique {
		score := s.Score(r, opts.Multiplier)
		if score < opts.MinConfidence {
			continue
		}
		leads = append(leads, toLead(r, score))
	}
	summary.Qualified = len(leads)

	sort.SliceStable(leads, func(i, j int) bool {
		return leads[i].OptimizedScore > leads[j].OptimizedScore
	})
	if opts.MaxResults > 0 && len(leads) > opts.MaxResults {
		leads = leads[:opts.MaxResults]
	}
	summary.Returned = len(leads)
	return leads, summary
}

// OverFetch returns how many raw candidates discovery should keep for a
// request of maxResults leads.
func (s *Scorer) OverFetch(maxResults int) int {
	return int(math.Ceil(float64(maxResults) * s.cfg.OverFetchFactor))
}

func toLead(r model.DiscoveredRecord, score int) model.ScoredLead {
	return model.ScoredLead{
		BusinessName:   r.Name,
		Address:        r.Address,
		Phone:          r.Phone,
		Website:        r.Website,
		Rating:         r.Rating,
		OptimizedScore: score,
		DataSources:    r.AllSources(),
		DedupKey:       RecordKey(r),
		Enhancement:    model.EnhancementData{EmailStatus: model.EmailNotFound},
	}
}

func nameScore(name string) float64 {
	switch n := utf8.RuneCountInString(Normalize(name)); {
	case n == 0:
		return 0
	case n < 3:
		return 40
	default:
		return 100
	}
}

func presence(s string) float64 {
	if Normalize(s) == "" {
		return 0
	}
	return 100
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

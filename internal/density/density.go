// Package density turns Census establishment counts into a scoring
// multiplier and a search radius hint.
package density

import (
	"context"
	"math"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/pkg/census"
)

// Result is the density signal for one business type and location. A zero
// Result (Available false) means no signal: multiplier 1 and no radius.
type Result struct {
	Available      bool    `json:"available"`
	StateFIPS      string  `json:"state_fips,omitempty"`
	NAICS          string  `json:"naics,omitempty"`
	Establishments int     `json:"establishments"`
	Score          float64 `json:"density_score"`
	Multiplier     float64 `json:"confidence_multiplier"`
	RadiusKm       int     `json:"recommended_radius_km,omitempty"`
}

// Unavailable is the neutral result.
func Unavailable() Result {
	return Result{Multiplier: 1}
}

// FromEstablishments derives the density metrics from a count.
func FromEstablishments(n int) Result {
	score := math.Min(float64(n)/750, 100)
	mult := 1.0
	switch {
	case n > 750:
		mult = 1.3
	case n > 250:
		mult = 1.15
	}
	return Result{
		Available:      true,
		Establishments: n,
		Score:          score,
		Multiplier:     mult,
		RadiusKm:       radius(score),
	}
}

func radius(score float64) int {
	switch {
	case score > 60:
		return 5
	case score > 30:
		return 10
	case score > 10:
		return 20
	default:
		return 35
	}
}

// Service looks up density through the Census client.
type Service struct {
	client census.Client
}

// New creates a Service. A nil client makes every lookup unavailable.
func New(client census.Client) *Service {
	return &Service{client: client}
}

// Lookup returns the density signal. Failures are logged and degrade to
// Unavailable; they never fail a job.
func (s *Service) Lookup(ctx context.Context, businessType, location string) Result {
	if s == nil || s.client == nil {
		return Unavailable()
	}
	fips, ok := StateFIPS(location)
	if !ok {
		zap.L().Debug("density: no state in location", zap.String("location", location))
		return Unavailable()
	}
	naics := NAICS(businessType)

	p, err := s.client.BusinessPatterns(ctx, fips, naics)
	if err != nil {
		zap.L().Warn("density: census lookup failed",
			zap.String("state_fips", fips),
			zap.String("naics", naics),
			zap.Error(err),
		)
		return Unavailable()
	}

	r := FromEstablishments(p.Establishments)
	r.StateFIPS = fips
	r.NAICS = naics
	return r
}

// naicsByKeyword is checked in order; the first keyword contained in the
// business type wins.
var naicsByKeyword = []struct {
	keyword string
	code    string
}{
	{"tax preparation", "541213"},
	{"accounting", "5412"},
	{"accountant", "5412"},
	{"cpa", "5412"},
	{"law firm", "5411"},
	{"attorney", "5411"},
	{"lawyer", "5411"},
	{"legal", "5411"},
	{"engineering", "5413"},
	{"architect", "5413"},
	{"consulting", "5416"},
	{"marketing", "5418"},
	{"barber", "812111"},
	{"coffee", "722515"},
	{"cafe", "722515"},
	{"bar", "722410"},
	{"restaurant", "7225"},
	{"dental", "6212"},
	{"dentist", "6212"},
	{"physician", "6211"},
	{"doctor", "6211"},
	{"medical", "621"},
	{"grocery", "445"},
	{"clothing", "448"},
	{"electronics", "443"},
	{"retail", "44"},
	{"plumb", "238220"},
	{"hvac", "238220"},
	{"electrician", "238210"},
	{"electrical", "238210"},
	{"contractor", "23"},
	{"construction", "23"},
	{"salon", "8121"},
	{"spa", "8121"},
	{"beauty", "8121"},
	{"real estate", "531"},
	{"realtor", "531"},
}

// NAICS maps a free-text business type to a NAICS 2017 code. Unknown types
// map to "00", all industries.
func NAICS(businessType string) string {
	lower := strings.ToLower(businessType)
	for _, m := range naicsByKeyword {
		if strings.Contains(lower, m.keyword) {
			return m.code
		}
	}
	return "00"
}

var stateAbbrRe = regexp.MustCompile(`\b([A-Z]{2})\b`)

var stateFIPS = map[string]string{
	"AL": "01", "AK": "02", "AZ": "04", "AR": "05", "CA": "06", "CO": "08", "CT": "09",
	"DE": "10", "DC": "11", "FL": "12", "GA": "13", "HI": "15", "ID": "16", "IL": "17",
	"IN": "18", "IA": "19", "KS": "20", "KY": "21", "LA": "22", "ME": "23", "MD": "24",
	"MA": "25", "MI": "26", "MN": "27", "MS": "28", "MO": "29", "MT": "30", "NE": "31",
	"NV": "32", "NH": "33", "NJ": "34", "NM": "35", "NY": "36", "NC": "37", "ND": "38",
	"OH": "39", "OK": "40", "OR": "41", "PA": "42", "RI": "44", "SC": "45", "SD": "46",
	"TN": "47", "TX": "48", "UT": "49", "VT": "50", "VA": "51", "WA": "53", "WV": "54",
	"WI": "55", "WY": "56",
}

// StateFIPS finds the first US state abbreviation in location and returns
// its FIPS code.
func StateFIPS(location string) (string, bool) {
	for _, m := range stateAbbrRe.FindAllStringSubmatch(location, -1) {
		if code, ok := stateFIPS[m[1]]; ok {
			return code, true
		}
	}
	return "", false
}

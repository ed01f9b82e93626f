// Package cost holds per-operation vendor pricing and turns call sizes into
// estimated and actual charges.
package cost

import "math"

// Rates holds per-operation pricing in USD.
type Rates struct {
	Google      GoogleRate      `yaml:"google" mapstructure:"google"`
	Foursquare  FoursquareRate  `yaml:"foursquare" mapstructure:"foursquare"`
	Hunter      HunterRate      `yaml:"hunter" mapstructure:"hunter"`
	NeverBounce NeverBounceRate `yaml:"neverbounce" mapstructure:"neverbounce"`
	Apollo      ApolloRate      `yaml:"apollo" mapstructure:"apollo"`
	PDL         PDLRate         `yaml:"pdl" mapstructure:"pdl"`
}

// GoogleRate holds Google Places pricing.
type GoogleRate struct {
	TextSearch float64 `yaml:"text_search" mapstructure:"text_search"`
	Details    float64 `yaml:"details" mapstructure:"details"`
}

// FoursquareRate holds Foursquare Places pricing.
type FoursquareRate struct {
	Search float64 `yaml:"search" mapstructure:"search"`
}

// HunterRate holds Hunter.io pricing. Searches bill per page of results.
type HunterRate struct {
	DomainSearch float64 `yaml:"domain_search" mapstructure:"domain_search"`
	EmailFinder  float64 `yaml:"email_finder" mapstructure:"email_finder"`
	Verifier     float64 `yaml:"verifier" mapstructure:"verifier"`
	PageSize     int     `yaml:"page_size" mapstructure:"page_size"`
}

// NeverBounceRate holds NeverBounce pricing.
type NeverBounceRate struct {
	Verify float64 `yaml:"verify" mapstructure:"verify"`
}

// ApolloRate holds Apollo pricing. People search bills per revealed email.
type ApolloRate struct {
	PeopleSearch float64 `yaml:"people_search" mapstructure:"people_search"`
	PerReveal    float64 `yaml:"per_reveal" mapstructure:"per_reveal"`
}

// PDLRate holds People Data Labs pricing, billed per match.
type PDLRate struct {
	Person float64 `yaml:"person" mapstructure:"person"`
}

// Calculator computes costs for vendor calls.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	if rates.Hunter.PageSize <= 0 {
		rates.Hunter.PageSize = 10
	}
	return &Calculator{rates: rates}
}

// Rates returns the configured rates.
func (c *Calculator) Rates() Rates {
	return c.rates
}

// GoogleSearch returns the charge for a text search spanning pages result pages.
func (c *Calculator) GoogleSearch(pages int) float64 {
	return float64(max(pages, 1)) * c.rates.Google.TextSearch
}

// GoogleDetails returns the charge for n place-details lookups.
func (c *Calculator) GoogleDetails(n int) float64 {
	return float64(n) * c.rates.Google.Details
}

// FoursquareSearch returns the charge for one search.
func (c *Calculator) FoursquareSearch() float64 {
	return c.rates.Foursquare.Search
}

// HunterDomainSearch returns the charge for a domain search asking for limit
// results. Hunter bills per page, so limit is rounded up to whole pages.
func (c *Calculator) HunterDomainSearch(limit int) float64 {
	return float64(c.pages(limit)) * c.rates.Hunter.DomainSearch
}

// HunterEmailFinder returns the charge for one email-finder call.
func (c *Calculator) HunterEmailFinder() float64 {
	return c.rates.Hunter.EmailFinder
}

// HunterVerify returns the charge for verifying n emails.
func (c *Calculator) HunterVerify(n int) float64 {
	return float64(n) * c.rates.Hunter.Verifier
}

// NeverBounceVerify returns the charge for verifying n emails.
func (c *Calculator) NeverBounceVerify(n int) float64 {
	return float64(n) * c.rates.NeverBounce.Verify
}

// ApolloPeopleSearch returns the charge for an organization people search
// revealing up to reveals emails.
func (c *Calculator) ApolloPeopleSearch(reveals int) float64 {
	return c.rates.Apollo.PeopleSearch + float64(max(reveals, 0))*c.rates.Apollo.PerReveal
}

// PDLPerson returns the charge for a matched person enrichment.
func (c *Calculator) PDLPerson() float64 {
	return c.rates.PDL.Person
}

func (c *Calculator) pages(limit int) int {
	if limit <= 0 {
		return 1
	}
	return int(math.Ceil(float64(limit) / float64(c.rates.Hunter.PageSize)))
}

// DefaultRates returns list pricing for every vendor.
func DefaultRates() Rates {
	return Rates{
		Google:      GoogleRate{TextSearch: 0.032, Details: 0.017},
		Foursquare:  FoursquareRate{Search: 0},
		Hunter:      HunterRate{DomainSearch: 0.034, EmailFinder: 0.034, Verifier: 0.01, PageSize: 10},
		NeverBounce: NeverBounceRate{Verify: 0.008},
		Apollo:      ApolloRate{PeopleSearch: 1.0},
		PDL:         PDLRate{Person: 0.28},
	}
}

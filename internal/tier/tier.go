// Package tier defines the fixed lead pricing tiers and their feature flags.
package tier

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Key identifies a tier.
type Key string

const (
	Base         Key = "BASE"
	Professional Key = "PROFESSIONAL"
	Enterprise   Key = "ENTERPRISE"
)

// Features are the enrichment steps a tier pays for.
type Features struct {
	VerifyEmails         bool `json:"verify_emails"`
	PersonEnrichment     bool `json:"person_enrichment"`
	ComplianceEnrichment bool `json:"compliance_enrichment"`
}

// Settings is the immutable configuration of one tier.
type Settings struct {
	Key            Key      `json:"key"`
	Name           string   `json:"name"`
	PricePerLead   float64  `json:"price_per_lead"`
	MaxCostPerLead float64  `json:"max_cost_per_lead"`
	Features       Features `json:"features"`
}

// DefaultBudget is the job budget used when the request does not set one.
func (s Settings) DefaultBudget(maxResults int) float64 {
	return float64(maxResults) * s.PricePerLead
}

var settings = map[Key]Settings{
	Base: {
		Key:            Base,
		Name:           "Base",
		PricePerLead:   0.15,
		MaxCostPerLead: 0.50,
	},
	Professional: {
		Key:            Professional,
		Name:           "Professional",
		PricePerLead:   0.45,
		MaxCostPerLead: 1.50,
		Features:       Features{VerifyEmails: true},
	},
	Enterprise: {
		Key:            Enterprise,
		Name:           "Enterprise",
		PricePerLead:   2.50,
		MaxCostPerLead: 7.50,
		Features: Features{
			VerifyEmails:         true,
			PersonEnrichment:     true,
			ComplianceEnrichment: true,
		},
	},
}

// Parse returns the settings for key, or an error for an unknown key.
// Keys are case-insensitive.
func Parse(key string) (Settings, error) {
	s, ok := settings[Key(strings.ToUpper(strings.TrimSpace(key)))]
	if !ok {
		return Settings{}, eris.Errorf("tier: unknown tier %q", key)
	}
	return s, nil
}

// Lookup returns the settings for key, falling back to Base.
func Lookup(key string) Settings {
	s, err := Parse(key)
	if err != nil {
		return settings[Base]
	}
	return s
}

// All returns every tier ordered by price.
func All() []Settings {
	return []Settings{settings[Base], settings[Professional], settings[Enterprise]}
}

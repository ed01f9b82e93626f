package model

import "time"

// Source tags attached to records and leads.
const (
	SourceGooglePlaces  = "google_places"
	SourceGoogleDetails = "google_place_details"
	SourceFoursquare    = "foursquare"
	SourcePattern       = "pattern"
	SourceHunter        = "hunter"
	SourceHunterFinder  = "hunter_finder"
	SourceHunterVerify  = "hunter_verifier"
	SourceApollo        = "apollo"
	SourcePDL           = "pdl"
	SourceNeverBounce   = "neverbounce"
	SourceCache         = "cache"
	SourceCachedReuse   = "cached_reuse"
)

// DiscoveredRecord is a raw business listing from one directory provider.
type DiscoveredRecord struct {
	Name             string   `json:"name"`
	Address          string   `json:"address"`
	Phone            string   `json:"phone,omitempty"`
	Website          string   `json:"website,omitempty"`
	Rating           float64  `json:"rating,omitempty"`
	RatingCount      int      `json:"rating_count,omitempty"`
	ProviderRecordID string   `json:"provider_record_id,omitempty"`
	Source           string   `json:"source"`
	DetailEnriched   bool     `json:"detail_enriched,omitempty"`
	Sources          []string `json:"sources,omitempty"`
	Types            []string `json:"types,omitempty"`
}

// AllSources returns the record's source tags, including Source.
func (r DiscoveredRecord) AllSources() []string {
	out := make([]string, 0, len(r.Sources)+1)
	seen := make(map[string]bool, len(r.Sources)+1)
	for _, s := range append([]string{r.Source}, r.Sources...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// EmailStatus is the trust level of a lead's display email.
type EmailStatus string

const (
	EmailVerified    EmailStatus = "verified"
	EmailUnconfirmed EmailStatus = "unconfirmed"
	EmailNotFound    EmailStatus = "not_found"
)

// EmailType describes how an email candidate was produced.
type EmailType string

const (
	EmailTypePersonal EmailType = "personal"
	EmailTypeGeneric  EmailType = "generic"
	EmailTypePattern  EmailType = "pattern"
)

// EmailCandidate is one email address surfaced during enrichment.
type EmailCandidate struct {
	Value      string    `json:"value"`
	Confidence int       `json:"confidence"`
	Verified   bool      `json:"verified"`
	Type       EmailType `json:"type"`
	Source     string    `json:"source,omitempty"`
	Sources    []string  `json:"sources,omitempty"`
	FirstName  string    `json:"first_name,omitempty"`
	LastName   string    `json:"last_name,omitempty"`
	Position   string    `json:"position,omitempty"`
}

// EnhancementData carries enrichment metadata embedded in a lead.
type EnhancementData struct {
	VerificationSources []string           `json:"verification_sources,omitempty"`
	Emails              []EmailCandidate   `json:"emails,omitempty"`
	CostBreakdown       map[string]float64 `json:"cost_breakdown,omitempty"`
	EmailStatus         EmailStatus        `json:"email_status"`
	CandidateEmail      string             `json:"candidate_email,omitempty"`
	OwnerName           string             `json:"owner_name,omitempty"`
	OwnerTitle          string             `json:"owner_title,omitempty"`
	Domain              string             `json:"domain,omitempty"`
	EnrichmentError     string             `json:"enrichment_error,omitempty"`
}

// TotalCost sums the cost breakdown.
func (e EnhancementData) TotalCost() float64 {
	var total float64
	for _, c := range e.CostBreakdown {
		total += c
	}
	return total
}

// ScoredLead is a de-duplicated, scored candidate owned by one job.
type ScoredLead struct {
	ID             string          `json:"id,omitempty"`
	BusinessName   string          `json:"business_name"`
	Address        string          `json:"address"`
	Phone          string          `json:"phone,omitempty"`
	Website        string          `json:"website,omitempty"`
	Email          *string         `json:"email,omitempty"`
	OptimizedScore int             `json:"optimized_score"`
	DataSources    []string        `json:"data_sources"`
	Enhancement    EnhancementData `json:"enhancement_data"`
	Rating         float64         `json:"rating,omitempty"`
	DedupKey       string          `json:"-"`
}

// Campaign is the summary record written when a job completes.
type Campaign struct {
	ID            string    `json:"id"`
	JobID         string    `json:"job_id"`
	Name          string    `json:"name"`
	BusinessType  string    `json:"business_type"`
	Location      string    `json:"location"`
	TierKey       string    `json:"tier_key"`
	Status        string    `json:"status"`
	TotalLeads    int       `json:"total_leads"`
	TotalCost     float64   `json:"total_cost"`
	AvgConfidence float64   `json:"avg_confidence"`
	CampaignHash  string    `json:"campaign_hash,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

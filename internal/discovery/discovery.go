// Package discovery finds candidate businesses through the directory
// provider chain (Google Places, then Foursquare).
package discovery

import (
	"context"
	"math"
	"net/url"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/scorer"
	"github.com/sells-group/lead-pipeline/internal/waterfall"
)

// ChainName identifies the directory chain in waterfall config and logs.
const ChainName = "directory"

// ErrNoResults is returned when every directory provider came back empty.
var ErrNoResults = eris.New("discovery: no businesses found")

// DefaultBlocklist lists hosts that are directory listings rather than
// business websites.
var DefaultBlocklist = []string{
	"yelp.com", "facebook.com", "instagram.com", "linkedin.com", "yellowpages.com",
	"bbb.org", "mapquest.com", "nextdoor.com", "tripadvisor.com", "google.com",
}

// Query describes one discovery request.
type Query struct {
	BusinessType string
	Location     string
	Keywords     []string
	// CampaignHash selects prior completed campaigns whose leads may be
	// reused. Empty disables reuse.
	CampaignHash string
	// Limit is the number of unique records wanted from the chain.
	Limit int

	state *searchState
}

// Text renders the free-text search string, e.g. "plumber emergency in Austin, TX".
func (q Query) Text() string {
	parts := append([]string{strings.TrimSpace(q.BusinessType)}, q.Keywords...)
	text := strings.Join(nonEmpty(parts), " ")
	if q.Location != "" {
		text += " in " + q.Location
	}
	return text
}

// Terms renders the search terms without the location.
func (q Query) Terms() string {
	return strings.Join(nonEmpty(append([]string{q.BusinessType}, q.Keywords...)), " ")
}

// Pass is one step of an expansion plan.
type Pass struct {
	// Factor multiplies maxResults to size the pass.
	Factor int
	// Wider searches the region around the location instead of the location.
	Wider bool
}

// DefaultExpansion re-runs discovery at growing multiples of maxResults and
// widens the area for the later passes.
var DefaultExpansion = []Pass{
	{Factor: 2}, {Factor: 3}, {Factor: 4},
	{Factor: 5, Wider: true}, {Factor: 6, Wider: true}, {Factor: 8, Wider: true}, {Factor: 10, Wider: true},
}

// Result is the output of a discovery run.
type Result struct {
	Records []model.DiscoveredRecord
	// Outcome folds every pass: attempts in order, costs summed and sources
	// unioned. StopReason is the last pass's.
	Outcome waterfall.Outcome[model.DiscoveredRecord]
	Passes  int
}

// Reused counts the records seeded from prior campaigns.
func (r *Result) Reused() int {
	n := 0
	for _, rec := range r.Records {
		for _, src := range rec.AllSources() {
			if src == model.SourceCachedReuse {
				n++
				break
			}
		}
	}
	return n
}

// Directory runs the directory chain.
type Directory struct {
	engine    *waterfall.Engine[Query, model.DiscoveredRecord]
	capFactor float64
	overFetch func(maxResults int) int
	expansion []Pass
}

// Option configures a Directory.
type Option func(*Directory)

// WithCapFactor sets the over-fetch factor applied to the requested result
// count before the chain stops.
func WithCapFactor(f float64) Option {
	return func(d *Directory) {
		if f >= 1 {
			d.capFactor = f
		}
	}
}

// WithOverFetch sets how many records Discover hands to scoring for
// maxResults. The default keeps twice maxResults.
func WithOverFetch(fn func(maxResults int) int) Option {
	return func(d *Directory) {
		if fn != nil {
			d.overFetch = fn
		}
	}
}

// WithExpansion enables further passes after the first while the merged
// set is short of maxResults.
func WithExpansion(plan []Pass) Option {
	return func(d *Directory) { d.expansion = plan }
}

// New creates a Directory over engine. The engine should be Ordered so the
// primary provider runs first.
func New(engine *waterfall.Engine[Query, model.DiscoveredRecord], opts ...Option) *Directory {
	d := &Directory{
		engine:    engine,
		capFactor: 1.2,
		overFetch: func(n int) int { return n * 2 },
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Cap returns how many unique records the chain collects for maxResults.
func (d *Directory) Cap(maxResults int) int {
	return int(math.Ceil(float64(maxResults) * d.capFactor))
}

// Discover collects de-duplicated records for q, trimmed to the over-fetch
// count. Secondary providers are only called while a pass is under its cap.
// Expansion passes run while the merged set is short of maxResults and the
// budget still covers a provider.
func (d *Directory) Discover(ctx context.Context, q Query, maxResults int, b waterfall.Budget) (*Result, error) {
	q.state = newSearchState()
	res := &Result{Outcome: waterfall.Outcome[model.DiscoveredRecord]{
		CostBySource: make(map[string]float64),
		StopReason:   waterfall.StopExhausted,
	}}

	var records []model.DiscoveredRecord
	plan := append([]Pass{{Factor: 1}}, d.expansion...)
	for i, p := range plan {
		if i > 0 && len(records) >= maxResults {
			break
		}
		pq := q
		if p.Wider {
			if pq.Location = WiderLocation(q.Location); pq.Location == "" {
				break
			}
		}
		pq.Limit = d.Cap(maxResults * max(p.Factor, 1))

		out := d.engine.WithCap(pq.Limit).Run(ctx, pq, b)
		if out.StopReason == waterfall.StopCanceled {
			return nil, eris.Wrap(ctx.Err(), "discovery: canceled")
		}
		res.Passes++
		foldOutcome(&res.Outcome, out)
		records = scorer.Dedupe(append(records, out.Items...))

		zap.L().Debug("discovery: pass finished",
			zap.Int("pass", res.Passes),
			zap.String("location", pq.Location),
			zap.Int("limit", pq.Limit),
			zap.Int("new_items", len(out.Items)),
			zap.Int("unique", len(records)),
			zap.String("stop_reason", string(out.StopReason)),
		)

		if out.StopReason == waterfall.StopBudgetExhausted || !anyCalled(out) {
			break
		}
	}

	for i := range records {
		if isDirectoryURL(records[i].Website, DefaultBlocklist) {
			records[i].Website = ""
		}
	}
	if keep := d.overFetch(maxResults); keep > 0 && len(records) > keep {
		records = records[:keep]
	}
	res.Records = records
	res.Outcome.Items = records

	zap.L().Info("discovery: chain finished",
		zap.String("query", q.Text()),
		zap.Int("records", len(records)),
		zap.Int("passes", res.Passes),
		zap.Int("reused", res.Reused()),
		zap.String("stop_reason", string(res.Outcome.StopReason)),
		zap.Strings("sources", res.Outcome.SourcesUsed),
		zap.Float64("cost", res.Outcome.Cost()),
	)

	if len(records) == 0 {
		return res, ErrNoResults
	}
	return res, nil
}

// WiderLocation returns the region of a "City, ST 12345" style location,
// e.g. "TX", or "" when the location names no region.
func WiderLocation(location string) string {
	parts := strings.Split(location, ",")
	if len(parts) < 2 {
		return ""
	}
	var region []string
	for _, f := range strings.Fields(parts[1]) {
		if strings.Trim(f, "0123456789-") != "" {
			region = append(region, f)
		}
	}
	return strings.Join(region, " ")
}

func foldOutcome(dst *waterfall.Outcome[model.DiscoveredRecord], out waterfall.Outcome[model.DiscoveredRecord]) {
	dst.Attempts = append(dst.Attempts, out.Attempts...)
	for src, c := range out.CostBySource {
		dst.CostBySource[src] += c
	}
	for _, src := range out.SourcesUsed {
		if !slices.Contains(dst.SourcesUsed, src) {
			dst.SourcesUsed = append(dst.SourcesUsed, src)
		}
	}
	dst.StopReason = out.StopReason
}

func anyCalled(out waterfall.Outcome[model.DiscoveredRecord]) bool {
	for _, a := range out.Attempts {
		if a.Called() {
			return true
		}
	}
	return false
}

// Merger de-duplicates records by normalized name and address.
type Merger struct{}

// Key returns the dedup key.
func (Merger) Key(r model.DiscoveredRecord) string { return scorer.RecordKey(r) }

// Merge keeps the richer record and unions source tags.
func (Merger) Merge(current, candidate model.DiscoveredRecord) model.DiscoveredRecord {
	return scorer.Merge(current, candidate)
}

// Confidence is always zero; directory chains stop on cap, not confidence.
func (Merger) Confidence(model.DiscoveredRecord) int { return 0 }

func isDirectoryURL(website string, blocklist []string) bool {
	if website == "" {
		return false
	}
	if !strings.Contains(website, "://") {
		website = "http://" + website
	}
	u, err := url.Parse(website)
	if err != nil {
		return false
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")

	for _, blocked := range blocklist {
		blocked = strings.ToLower(blocked)
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}

func nonEmpty(in []string) []string {
	out := in[:0:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

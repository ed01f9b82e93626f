package scorer

import (
	"github.com/sells-group/lead-pipeline/internal/model"
)

// Richer reports whether candidate should replace current when both share a
// dedup key. Detail-enriched listings beat bare listings; otherwise the record
// that adds a website or phone wins.
func Richer(current, candidate model.DiscoveredRecord) bool {
	if candidate.DetailEnriched != current.DetailEnriched {
		return candidate.DetailEnriched
	}
	if candidate.Source == model.SourceGoogleDetails && current.Source == model.SourceGooglePlaces {
		return true
	}
	return completeness(candidate) > completeness(current)
}

// Merge combines two records with the same key, keeping the richer one and
// the union of their source tags.
func Merge(current, candidate model.DiscoveredRecord) model.DiscoveredRecord {
	winner, loser := current, candidate
	if Richer(current, candidate) {
		winner, loser = candidate, current
	}
	winner.Sources = unionSources(winner.AllSources(), loser.AllSources())
	return winner
}

// Dedupe collapses records sharing a normalized name+address key. Output keeps
// first-seen order.
func Dedupe(records []model.DiscoveredRecord) []model.DiscoveredRecord {
	index := make(map[string]int, len(records))
	out := make([]model.DiscoveredRecord, 0, len(records))
	for _, r := range records {
		k := RecordKey(r)
		if i, ok := index[k]; ok {
			out[i] = Merge(out[i], r)
			continue
		}
		index[k] = len(out)
		r.Sources = r.AllSources()
		out = append(out, r)
	}
	return out
}

func completeness(r model.DiscoveredRecord) int {
	n := 0
	for _, present := range []bool{r.Name != "", r.Address != "", r.Phone != "", r.Website != "", r.Rating > 0} {
		if present {
			n++
		}
	}
	return n
}

func unionSources(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

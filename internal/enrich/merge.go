package enrich

import (
	"strings"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// EmailMerger de-duplicates candidates by case-insensitive address. The
// higher-confidence candidate wins; source tags and verification are unioned.
type EmailMerger struct{}

// Key implements waterfall.Merger.
func (EmailMerger) Key(c model.EmailCandidate) string {
	return strings.ToLower(strings.TrimSpace(c.Value))
}

// Merge implements waterfall.Merger.
func (EmailMerger) Merge(current, candidate model.EmailCandidate) model.EmailCandidate {
	winner, loser := current, candidate
	if candidate.Confidence > current.Confidence ||
		(current.Type == model.EmailTypePattern && candidate.Type != model.EmailTypePattern) {
		winner, loser = candidate, current
	}
	winner.Sources = without(unionStrings(candidateSources(winner), candidateSources(loser)), winner.Source)
	winner.Verified = winner.Verified || loser.Verified
	if winner.FirstName == "" && winner.LastName == "" {
		winner.FirstName, winner.LastName = loser.FirstName, loser.LastName
	}
	if winner.Position == "" {
		winner.Position = loser.Position
	}
	if winner.Type == model.EmailTypePattern && loser.Type != model.EmailTypePattern {
		winner.Type = loser.Type
	}
	return winner
}

// Confidence implements waterfall.Merger.
func (EmailMerger) Confidence(c model.EmailCandidate) int { return c.Confidence }

func candidateSources(c model.EmailCandidate) []string {
	return append([]string{c.Source}, c.Sources...)
}

// personMerger keeps the first matched person.
type personMerger struct{}

func (personMerger) Key(Person) string              { return "person" }
func (personMerger) Merge(current, _ Person) Person { return current }
func (personMerger) Confidence(p Person) int        { return min(p.Likelihood*10, 100) }

// verdictMerger keeps a conclusive verdict over an inconclusive one.
type verdictMerger struct{}

func (verdictMerger) Key(v Verdict) string { return strings.ToLower(v.Email) }

func (verdictMerger) Merge(current, candidate Verdict) Verdict {
	if candidate.Conclusive && !current.Conclusive {
		return candidate
	}
	return current
}

// Confidence reports 100 for conclusive verdicts so the verifier chain stops
// on the first definite answer.
func (verdictMerger) Confidence(v Verdict) int {
	if v.Conclusive {
		return 100
	}
	return 0
}

func without(list []string, drop string) []string {
	out := list[:0]
	for _, s := range list {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}

func unionStrings(a, b []string) []string {
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

package enrich

import (
	"context"
	"strings"
	"unicode"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/waterfall"
)

const (
	// DefaultMaxPatterns caps generated addresses per domain.
	DefaultMaxPatterns = 10
	// DefaultPatternConfidence is the confidence given to generated addresses.
	DefaultPatternConfidence = 60
)

var baseLocals = []string{"info", "contact", "hello", "sales", "admin", "owner", "manager", "support"}

var corporateSuffixes = map[string]bool{"llc": true, "inc": true, "corp": true, "ltd": true}

// PatternEmails generates likely addresses for domain. Owner patterns come
// first, then common role inboxes, then words from the business name and
// their five-letter prefixes. Output is de-duplicated and capped at limit.
func PatternEmails(businessName, domain, firstName, lastName string, limit int) []string {
	if domain == "" {
		return nil
	}
	if limit <= 0 {
		limit = DefaultMaxPatterns
	}

	var locals []string
	first, last := localPart(firstName), localPart(lastName)
	if first != "" && last != "" {
		locals = append(locals,
			first,
			last,
			first+"."+last,
			first[:1]+last,
			first+last[:1],
			first+last,
		)
	}
	locals = append(locals, baseLocals...)

	for _, w := range strings.Fields(localWords(businessName)) {
		if len(w) <= 2 || corporateSuffixes[w] {
			continue
		}
		locals = append(locals, w)
		if len(w) > 5 {
			locals = append(locals, w[:5])
		}
	}

	seen := make(map[string]bool, len(locals))
	out := make([]string, 0, limit)
	for _, l := range locals {
		email := l + "@" + domain
		if l == "" || seen[email] {
			continue
		}
		seen[email] = true
		out = append(out, email)
		if len(out) == limit {
			break
		}
	}
	return out
}

// localWords lower-cases s and drops everything but ASCII letters, digits
// and spaces.
func localWords(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return b.String()
}

func localPart(name string) string {
	return strings.ReplaceAll(localWords(name), " ", "")
}

// PatternSource is the free first step of the email chain.
type PatternSource struct {
	limit      int
	confidence int
}

// NewPatternSource creates a PatternSource. Zero values use the defaults.
func NewPatternSource(limit, confidence int) *PatternSource {
	if limit <= 0 {
		limit = DefaultMaxPatterns
	}
	if confidence <= 0 {
		confidence = DefaultPatternConfidence
	}
	return &PatternSource{limit: limit, confidence: confidence}
}

// Name implements waterfall.Source.
func (s *PatternSource) Name() string { return model.SourcePattern }

// Free implements waterfall.Source.
func (s *PatternSource) Free() bool { return true }

// EstimateCost implements waterfall.Source.
func (s *PatternSource) EstimateCost(Query) float64 { return 0 }

// Fetch implements waterfall.Source.
func (s *PatternSource) Fetch(_ context.Context, q Query) (waterfall.Batch[model.EmailCandidate], error) {
	var batch waterfall.Batch[model.EmailCandidate]
	for _, e := range PatternEmails(q.BusinessName, q.Domain, q.FirstName, q.LastName, s.limit) {
		batch.Items = append(batch.Items, model.EmailCandidate{
			Value:      e,
			Confidence: s.confidence,
			Type:       model.EmailTypePattern,
			Source:     model.SourcePattern,
		})
	}
	return batch, nil
}

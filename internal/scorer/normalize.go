// Package scorer turns raw directory listings into a ranked, de-duplicated
// lead list.
package scorer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// Normalize lower-cases s, folds accents, strips punctuation and collapses
// whitespace.
func Normalize(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}

// Key returns the dedup key of a record.
func Key(name, address string) string {
	return Normalize(name) + "_" + Normalize(address)
}

// RecordKey returns the dedup key of r.
func RecordKey(r model.DiscoveredRecord) string {
	return Key(r.Name, r.Address)
}

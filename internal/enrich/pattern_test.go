package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/model"
)

func TestPatternEmails_OwnerFirst(t *testing.T) {
	got := PatternEmails("Acme Plumbing LLC", "acme.com", "John", "Smith", 10)
	assert.Equal(t, []string{
		"john@acme.com",
		"smith@acme.com",
		"john.smith@acme.com",
		"jsmith@acme.com",
		"johns@acme.com",
		"johnsmith@acme.com",
		"info@acme.com",
		"contact@acme.com",
		"hello@acme.com",
		"sales@acme.com",
	}, got)
}

func TestPatternEmails_BusinessWords(t *testing.T) {
	got := PatternEmails("Acme Plumbing LLC", "acme.com", "", "", 20)
	require.Len(t, got, 11)
	assert.Equal(t, "info@acme.com", got[0])
	assert.Equal(t, []string{"acme@acme.com", "plumbing@acme.com", "plumb@acme.com"}, got[8:])
	assert.NotContains(t, got, "llc@acme.com")
}

func TestPatternEmails_Edges(t *testing.T) {
	assert.Nil(t, PatternEmails("Acme", "", "John", "Smith", 10))
	assert.Len(t, PatternEmails("Acme", "acme.com", "", "", 0), DefaultMaxPatterns)
	assert.Equal(t, []string{"jo@x.io", "oneil@x.io"},
		PatternEmails("", "x.io", "Joé", "O'Neil", 2), "non-ASCII letters and punctuation are dropped")
}

func TestPatternSource_Fetch(t *testing.T) {
	s := NewPatternSource(3, 0)
	assert.True(t, s.Free())
	assert.Zero(t, s.EstimateCost(Query{}))

	batch, err := s.Fetch(context.Background(), Query{Domain: "acme.com", BusinessName: "Acme"})
	require.NoError(t, err)
	require.Len(t, batch.Items, 3)
	assert.Zero(t, batch.Cost)
	for _, c := range batch.Items {
		assert.Equal(t, model.EmailTypePattern, c.Type)
		assert.Equal(t, DefaultPatternConfidence, c.Confidence)
		assert.Equal(t, model.SourcePattern, c.Source)
	}
}

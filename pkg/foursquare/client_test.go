package foursquare

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/resilience"
)

func TestSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/places/search", r.URL.Path)
		assert.Equal(t, "fsq-key", r.Header.Get("Authorization"))
		assert.Equal(t, "plumber", r.URL.Query().Get("query"))
		assert.Equal(t, "Austin, TX", r.URL.Query().Get("near"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"fsq_id":"4b1","name":"Acme Plumbing","tel":"(512) 555-0100",
			"website":"https://acmeplumbing.com","rating":8.6,"stats":{"total_ratings":40},
			"location":{"formatted_address":"1 Main St, Austin, TX 78701"},
			"categories":[{"id":11000,"name":"Plumber"}]}]}`))
	}))
	defer srv.Close()

	client := NewClient("fsq-key", WithBaseURL(srv.URL))
	resp, err := client.Search(context.Background(), SearchRequest{Query: "plumber", Near: "Austin, TX", Limit: 10})

	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	p := resp.Results[0]
	assert.Equal(t, "4b1", p.FsqID)
	assert.Equal(t, "1 Main St, Austin, TX 78701", p.Location.FormattedAddress)
	assert.InDelta(t, 8.6, p.Rating, 0.001)
	require.NotNil(t, p.Stats)
	assert.Equal(t, 40, p.Stats.TotalRatings)
	assert.Equal(t, "Plumber", p.Categories[0].Name)
}

func TestSearch_DefaultLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Empty(t, r.URL.Query().Get("near"))
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	client := NewClient("fsq-key", WithBaseURL(srv.URL))
	resp, err := client.Search(context.Background(), SearchRequest{Query: "plumber", Limit: 500})

	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearch_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient("fsq-key", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), SearchRequest{Query: "plumber"})

	require.Error(t, err)
	assert.True(t, resilience.IsRateLimited(err))
}

func TestSearch_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Invalid request token."}`))
	}))
	defer srv.Close()

	client := NewClient("bad", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), SearchRequest{Query: "plumber"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, resilience.KindPermanent, resilience.Classify(err))
}

// Package foursquare is a minimal Foursquare Places v3 search client.
package foursquare

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/resilience"
)

const (
	defaultBaseURL = "https://api.foursquare.com/v3"
	providerName   = "foursquare"
	maxLimit       = 50
)

// Client searches Foursquare places.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest is a text search near a place name.
type SearchRequest struct {
	Query string
	Near  string
	Limit int
}

// SearchResponse is the body of /places/search.
type SearchResponse struct {
	Results []Place `json:"results"`
}

// Place is one search result.
type Place struct {
	FsqID      string     `json:"fsq_id"`
	Name       string     `json:"name"`
	Location   Location   `json:"location"`
	Tel        string     `json:"tel"`
	Website    string     `json:"website"`
	Rating     float64    `json:"rating"`
	Stats      *Stats     `json:"stats,omitempty"`
	Categories []Category `json:"categories"`
}

// Location is the address block of a place.
type Location struct {
	Address          string `json:"address"`
	Locality         string `json:"locality"`
	Region           string `json:"region"`
	Postcode         string `json:"postcode"`
	FormattedAddress string `json:"formatted_address"`
}

// Stats holds engagement counters.
type Stats struct {
	TotalRatings int `json:"total_ratings"`
}

// Category is a Foursquare taxonomy node.
type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) { c.baseURL = url }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Foursquare client authenticating with apiKey.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, sr SearchRequest) (*SearchResponse, error) {
	limit := sr.Limit
	if limit <= 0 || limit > maxLimit {
		limit = 20
	}
	params := url.Values{}
	params.Set("query", sr.Query)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("fields", "fsq_id,name,location,tel,website,rating,stats,categories")
	if sr.Near != "" {
		params.Set("near", sr.Near)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/places/search?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "foursquare: create request")
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewProviderError(providerName, 0, eris.Wrap(err, "foursquare: send request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewProviderError(providerName, 0, eris.Wrap(err, "foursquare: read response"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.NewProviderError(providerName, resp.StatusCode,
			eris.Errorf("foursquare: unexpected status %d: %s", resp.StatusCode, string(body)))
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "foursquare: unmarshal response")
	}
	return &result, nil
}

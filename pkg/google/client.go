package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/resilience"
)

const (
	defaultBaseURL = "https://maps.googleapis.com/maps/api/place"
	providerName   = "google_places"
	detailFields   = "formatted_phone_number,international_phone_number,website,user_ratings_total"
)

// Client performs Google Places API operations.
type Client interface {
	TextSearch(ctx context.Context, query string) (*TextSearchResponse, error)
	// NextPage fetches the page after a text search. Google only accepts a
	// page token a couple of seconds after it was issued.
	NextPage(ctx context.Context, pageToken string) (*TextSearchResponse, error)
	Details(ctx context.Context, placeID string) (*PlaceDetails, error)
}

// TextSearchResponse is the response from Places Text Search.
type TextSearchResponse struct {
	Status        string  `json:"status"`
	ErrorMessage  string  `json:"error_message,omitempty"`
	Results       []Place `json:"results"`
	NextPageToken string  `json:"next_page_token,omitempty"`
}

// Place represents a place returned by text search.
type Place struct {
	PlaceID          string   `json:"place_id"`
	Name             string   `json:"name"`
	FormattedAddress string   `json:"formatted_address"`
	Rating           float64  `json:"rating"`
	UserRatingsTotal int      `json:"user_ratings_total"`
	Types            []string `json:"types"`
}

// PlaceDetails holds the contact fields fetched by a details lookup.
type PlaceDetails struct {
	FormattedPhone     string `json:"formatted_phone_number"`
	InternationalPhone string `json:"international_phone_number"`
	Website            string `json:"website"`
	UserRatingsTotal   int    `json:"user_ratings_total"`
}

// Phone returns the local phone format, falling back to the international one.
func (d *PlaceDetails) Phone() string {
	if d.FormattedPhone != "" {
		return d.FormattedPhone
	}
	return d.InternationalPhone
}

type detailsResponse struct {
	Status       string       `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Result       PlaceDetails `json:"result"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Google Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) TextSearch(ctx context.Context, query string) (*TextSearchResponse, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("type", "establishment")
	return c.textSearch(ctx, params)
}

func (c *httpClient) NextPage(ctx context.Context, pageToken string) (*TextSearchResponse, error) {
	params := url.Values{}
	params.Set("pagetoken", pageToken)
	return c.textSearch(ctx, params)
}

func (c *httpClient) textSearch(ctx context.Context, params url.Values) (*TextSearchResponse, error) {
	var result TextSearchResponse
	if err := c.get(ctx, "/textsearch/json", params, &result); err != nil {
		return nil, err
	}
	if err := statusError(result.Status, result.ErrorMessage); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *httpClient) Details(ctx context.Context, placeID string) (*PlaceDetails, error) {
	params := url.Values{}
	params.Set("place_id", placeID)
	params.Set("fields", detailFields)

	var result detailsResponse
	if err := c.get(ctx, "/details/json", params, &result); err != nil {
		return nil, err
	}
	if err := statusError(result.Status, result.ErrorMessage); err != nil {
		return nil, err
	}
	return &result.Result, nil
}

func (c *httpClient) get(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return eris.Wrap(err, "google: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return resilience.NewProviderError(providerName, 0, eris.Wrap(err, "google: send request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resilience.NewProviderError(providerName, 0, eris.Wrap(err, "google: read response"))
	}

	if resp.StatusCode != http.StatusOK {
		return resilience.NewProviderError(providerName, resp.StatusCode,
			eris.Errorf("google: unexpected status %d: %s", resp.StatusCode, string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "google: unmarshal response")
	}
	return nil
}

// statusError maps the in-body status of the legacy Places API. ZERO_RESULTS
// is an empty success.
func statusError(status, message string) error {
	switch status {
	case "OK", "ZERO_RESULTS", "":
		return nil
	case "OVER_QUERY_LIMIT":
		return resilience.NewProviderError(providerName, http.StatusTooManyRequests, eris.Errorf("google: %s: %s", status, message))
	case "UNKNOWN_ERROR":
		return resilience.NewProviderError(providerName, http.StatusServiceUnavailable, eris.Errorf("google: %s: %s", status, message))
	case "NOT_FOUND":
		return resilience.NewProviderError(providerName, http.StatusNotFound, eris.Errorf("google: %s: %s", status, message))
	default:
		return resilience.NewProviderError(providerName, http.StatusBadRequest, eris.Errorf("google: %s: %s", status, message))
	}
}

// Package apollo is a client for Apollo.io people search.
package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/resilience"
)

const (
	defaultBaseURL = "https://api.apollo.io/api/v1"
	providerName   = "apollo"
)

// DefaultTitles are the decision-maker titles searched for small businesses.
var DefaultTitles = []string{"owner", "founder", "president", "ceo", "general manager"}

// Client searches Apollo's people index.
type Client interface {
	PeopleSearch(ctx context.Context, req PeopleSearchRequest) (*PeopleSearchResponse, error)
}

// PeopleSearchRequest is the body of /mixed_people/search.
type PeopleSearchRequest struct {
	OrganizationDomains []string `json:"q_organization_domains_list"`
	PersonTitles        []string `json:"person_titles,omitempty"`
	Page                int      `json:"page"`
	PerPage             int      `json:"per_page"`
}

// PeopleSearchResponse is the response of /mixed_people/search.
type PeopleSearchResponse struct {
	People     []Person   `json:"people"`
	Pagination Pagination `json:"pagination"`
}

// Person is one contact.
type Person struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Name        string `json:"name"`
	Title       string `json:"title"`
	Email       string `json:"email"`
	EmailStatus string `json:"email_status"` // verified, guessed, unavailable
}

// Pagination is Apollo's page metadata.
type Pagination struct {
	Page         int `json:"page"`
	PerPage      int `json:"per_page"`
	TotalEntries int `json:"total_entries"`
	TotalPages   int `json:"total_pages"`
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

// NewClient creates an Apollo client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 20 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) PeopleSearch(ctx context.Context, sr PeopleSearchRequest) (*PeopleSearchResponse, error) {
	if sr.Page <= 0 {
		sr.Page = 1
	}
	if sr.PerPage <= 0 || sr.PerPage > 100 {
		sr.PerPage = 10
	}
	body, err := json.Marshal(sr)
	if err != nil {
		return nil, eris.Wrap(err, "apollo: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mixed_people/search", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "apollo: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewProviderError(providerName, 0, eris.Wrap(err, "apollo: send request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewProviderError(providerName, 0, eris.Wrap(err, "apollo: read response"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.NewProviderError(providerName, resp.StatusCode,
			eris.Errorf("apollo: unexpected status %d: %s", resp.StatusCode, string(respBody)))
	}

	var out PeopleSearchResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, eris.Wrap(err, "apollo: unmarshal response")
	}
	return &out, nil
}

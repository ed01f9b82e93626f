// Package hunter is a client for the Hunter.io v2 email API.
package hunter

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
	defaultBaseURL = "https://api.hunter.io/v2"
	providerName   = "hunter"
)

// Client performs Hunter.io operations.
type Client interface {
	DomainSearch(ctx context.Context, domain string, limit int) (*DomainSearchResult, error)
	EmailFinder(ctx context.Context, domain, firstName, lastName string) (*EmailFinderResult, error)
	VerifyEmail(ctx context.Context, email string) (*VerifyResult, error)
}

// DomainSearchResult is the data block of /domain-search.
type DomainSearchResult struct {
	Domain       string  `json:"domain"`
	Organization string  `json:"organization"`
	Pattern      string  `json:"pattern"`
	Emails       []Email `json:"emails"`
}

// Email is one address found for a domain.
type Email struct {
	Value      string `json:"value"`
	Type       string `json:"type"` // personal or generic
	Confidence int    `json:"confidence"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Position   string `json:"position"`
}

// EmailFinderResult is the data block of /email-finder.
type EmailFinderResult struct {
	Email     string `json:"email"`
	Score     int    `json:"score"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Position  string `json:"position"`
}

// VerifyResult is the data block of /email-verifier.
type VerifyResult struct {
	Email  string `json:"email"`
	Status string `json:"status"` // valid, invalid, accept_all, webmail, disposable, unknown
	Result string `json:"result"` // deliverable, undeliverable, risky
	Score  int    `json:"score"`
}

// Deliverable reports whether Hunter considers the address safe to send to.
func (v *VerifyResult) Deliverable() bool {
	return v.Status == "valid" || v.Result == "deliverable"
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

// NewClient creates a Hunter.io client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) DomainSearch(ctx context.Context, domain string, limit int) (*DomainSearchResult, error) {
	params := url.Values{}
	params.Set("domain", domain)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var out DomainSearchResult
	if err := c.get(ctx, "/domain-search", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) EmailFinder(ctx context.Context, domain, firstName, lastName string) (*EmailFinderResult, error) {
	params := url.Values{}
	params.Set("domain", domain)
	params.Set("first_name", firstName)
	params.Set("last_name", lastName)

	var out EmailFinderResult
	if err := c.get(ctx, "/email-finder", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) VerifyEmail(ctx context.Context, email string) (*VerifyResult, error) {
	params := url.Values{}
	params.Set("email", email)

	var out VerifyResult
	if err := c.get(ctx, "/email-verifier", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		ID      string `json:"id"`
		Details string `json:"details"`
	} `json:"errors"`
}

func (c *httpClient) get(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("api_key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return eris.Wrap(err, "hunter: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return resilience.NewProviderError(providerName, 0, eris.Wrap(err, "hunter: send request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resilience.NewProviderError(providerName, 0, eris.Wrap(err, "hunter: read response"))
	}

	var env envelope
	_ = json.Unmarshal(body, &env)

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if len(env.Errors) > 0 {
			msg = env.Errors[0].ID + ": " + env.Errors[0].Details
		}
		return resilience.NewProviderError(providerName, resp.StatusCode,
			eris.Errorf("hunter: %s: unexpected status %d: %s", path, resp.StatusCode, msg))
	}

	if len(env.Data) == 0 {
		return eris.Errorf("hunter: %s: empty data", path)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return eris.Wrap(err, "hunter: unmarshal response")
	}
	return nil
}

// Package neverbounce is a client for NeverBounce single-address verification.
package neverbounce

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
	defaultBaseURL = "https://api.neverbounce.com/v4"
	providerName   = "neverbounce"
)

// Verification results.
const (
	ResultValid      = "valid"
	ResultInvalid    = "invalid"
	ResultDisposable = "disposable"
	ResultCatchAll   = "catchall"
	ResultUnknown    = "unknown"
)

// Client verifies single addresses.
type Client interface {
	Check(ctx context.Context, email string) (*CheckResult, error)
}

// CheckResult is the body of /single/check.
type CheckResult struct {
	Status              string   `json:"status"`
	Result              string   `json:"result"`
	Flags               []string `json:"flags"`
	SuggestedCorrection string   `json:"suggested_correction"`
	Message             string   `json:"message,omitempty"`
}

// Deliverable reports a valid result.
func (r *CheckResult) Deliverable() bool { return r.Result == ResultValid }

// Confidence maps the result and flags to a 0-100 score.
func (r *CheckResult) Confidence() int {
	var c int
	switch r.Result {
	case ResultValid:
		c = 95
	case ResultCatchAll:
		c = 75
	case ResultUnknown:
		c = 50
	case ResultDisposable:
		c = 10
	case ResultInvalid:
		c = 5
	}
	for _, f := range r.Flags {
		switch f {
		case "has_dns", "has_dns_mx":
			c += 5
		case "smtp_connectable":
			c += 10
		case "role_account":
			c -= 10
		case "free_email_host":
			c -= 5
		}
	}
	return min(max(c, 0), 100)
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

// NewClient creates a NeverBounce client.
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

func (c *httpClient) Check(ctx context.Context, email string) (*CheckResult, error) {
	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("email", email)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/single/check?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "neverbounce: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewProviderError(providerName, 0, eris.Wrap(err, "neverbounce: send request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewProviderError(providerName, 0, eris.Wrap(err, "neverbounce: read response"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.NewProviderError(providerName, resp.StatusCode,
			eris.Errorf("neverbounce: unexpected status %d: %s", resp.StatusCode, string(body)))
	}

	var out CheckResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "neverbounce: unmarshal response")
	}
	if err := statusError(out.Status, out.Message); err != nil {
		return nil, err
	}
	return &out, nil
}

// statusError maps the in-body status; NeverBounce answers 200 for most
// failures.
func statusError(status, message string) error {
	switch status {
	case "success":
		return nil
	case "throttle_triggered":
		return resilience.NewProviderError(providerName, http.StatusTooManyRequests, eris.Errorf("neverbounce: %s: %s", status, message))
	case "temp_unavail", "general_failure":
		return resilience.NewProviderError(providerName, http.StatusServiceUnavailable, eris.Errorf("neverbounce: %s: %s", status, message))
	case "auth_failure":
		return resilience.NewProviderError(providerName, http.StatusUnauthorized, eris.Errorf("neverbounce: %s: %s", status, message))
	default:
		return resilience.NewProviderError(providerName, http.StatusBadRequest, eris.Errorf("neverbounce: %s: %s", status, message))
	}
}

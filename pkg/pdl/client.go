// Package pdl is a client for the People Data Labs person enrichment API.
package pdl

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
	defaultBaseURL = "https://api.peopledatalabs.com/v5"
	providerName   = "pdl"
)

// ErrNotFound is returned when PDL has no matching person. PDL does not bill
// for misses.
var ErrNotFound = eris.New("pdl: person not found")

// Client enriches people.
type Client interface {
	EnrichPerson(ctx context.Context, req PersonRequest) (*Person, error)
}

// PersonRequest identifies a person. Either Email, or FirstName+LastName
// with Company, must be set.
type PersonRequest struct {
	Email     string
	FirstName string
	LastName  string
	Company   string
	// MinLikelihood filters weak matches server side (1-10).
	MinLikelihood int
}

func (r PersonRequest) params() url.Values {
	v := url.Values{}
	if r.Email != "" {
		v.Set("email", r.Email)
	}
	if r.FirstName != "" {
		v.Set("first_name", r.FirstName)
	}
	if r.LastName != "" {
		v.Set("last_name", r.LastName)
	}
	if r.Company != "" {
		v.Set("company", r.Company)
	}
	if r.MinLikelihood > 0 {
		v.Set("min_likelihood", strconv.Itoa(r.MinLikelihood))
	}
	return v
}

// Person is the matched profile.
type Person struct {
	Likelihood int
	FullName   string
	FirstName  string
	LastName   string
	JobTitle   string
	WorkEmail  string
	Emails     []string
}

type enrichResponse struct {
	Status     int `json:"status"`
	Likelihood int `json:"likelihood"`
	Data       struct {
		FullName  string `json:"full_name"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		JobTitle  string `json:"job_title"`
		WorkEmail string `json:"work_email"`
		Emails    []struct {
			Address string `json:"address"`
			Type    string `json:"type"`
		} `json:"emails"`
	} `json:"data"`
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

// NewClient creates a PDL client.
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

func (c *httpClient) EnrichPerson(ctx context.Context, pr PersonRequest) (*Person, error) {
	if pr.Email == "" && (pr.FirstName == "" || pr.LastName == "" || pr.Company == "") {
		return nil, eris.New("pdl: email or first name, last name and company required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/person/enrich?"+pr.params().Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "pdl: create request")
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewProviderError(providerName, 0, eris.Wrap(err, "pdl: send request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewProviderError(providerName, 0, eris.Wrap(err, "pdl: read response"))
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, resilience.NewProviderError(providerName, resp.StatusCode,
			eris.Errorf("pdl: unexpected status %d: %s", resp.StatusCode, string(body)))
	}

	var er enrichResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, eris.Wrap(err, "pdl: unmarshal response")
	}

	p := &Person{
		Likelihood: er.Likelihood,
		FullName:   er.Data.FullName,
		FirstName:  er.Data.FirstName,
		LastName:   er.Data.LastName,
		JobTitle:   er.Data.JobTitle,
		WorkEmail:  er.Data.WorkEmail,
	}
	for _, e := range er.Data.Emails {
		if e.Address != "" {
			p.Emails = append(p.Emails, e.Address)
		}
	}
	return p, nil
}

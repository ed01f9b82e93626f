// Package census reads County Business Patterns establishment counts from the
// Census Bureau data API.
package census

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
	defaultBaseURL = "https://api.census.gov/data"
	defaultYear    = "2021"
	providerName   = "census"
)

// ErrNoData is returned when the API has no rows for the query.
var ErrNoData = eris.New("census: no data")

// Client queries business patterns.
type Client interface {
	BusinessPatterns(ctx context.Context, stateFIPS, naics string) (*Patterns, error)
}

// Patterns is the state-level aggregate for one NAICS code.
type Patterns struct {
	StateFIPS      string
	NAICS          string
	Label          string
	Establishments int
	Employees      int
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

// WithYear selects the CBP vintage.
func WithYear(year string) Option {
	return func(c *httpClient) { c.year = year }
}

type httpClient struct {
	apiKey  string
	baseURL string
	year    string
	http    *http.Client
}

// NewClient creates a Census client. apiKey may be empty for low-volume use.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		year:    defaultYear,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) BusinessPatterns(ctx context.Context, stateFIPS, naics string) (*Patterns, error) {
	params := url.Values{}
	params.Set("get", "ESTAB,EMP,NAICS2017_LABEL")
	params.Set("for", "state:"+stateFIPS)
	params.Set("NAICS2017", naics)
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}

	endpoint := c.baseURL + "/" + c.year + "/cbp?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "census: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewProviderError(providerName, 0, eris.Wrap(err, "census: send request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewProviderError(providerName, 0, eris.Wrap(err, "census: read response"))
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil, ErrNoData
	default:
		return nil, resilience.NewProviderError(providerName, resp.StatusCode,
			eris.Errorf("census: unexpected status %d: %s", resp.StatusCode, string(body)))
	}

	var rows [][]string
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, eris.Wrap(err, "census: unmarshal response")
	}
	return parseRows(rows, stateFIPS, naics)
}

// parseRows reads the header row and the first data row. Values are strings
// in the API response.
func parseRows(rows [][]string, stateFIPS, naics string) (*Patterns, error) {
	if len(rows) < 2 {
		return nil, ErrNoData
	}
	col := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		col[h] = i
	}
	get := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	row := rows[1]
	p := &Patterns{StateFIPS: stateFIPS, NAICS: naics, Label: get(row, "NAICS2017_LABEL")}
	var err error
	if p.Establishments, err = strconv.Atoi(get(row, "ESTAB")); err != nil {
		return nil, eris.Wrap(err, "census: parse ESTAB")
	}
	if v := get(row, "EMP"); v != "" {
		p.Employees, _ = strconv.Atoi(v)
	}
	return p, nil
}

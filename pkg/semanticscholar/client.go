// Package semanticscholar is a minimal client for the Semantic Scholar graph
// API, used to verify scholarly paper citations.
package semanticscholar

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.semanticscholar.org"

// Client searches the Semantic Scholar paper index.
type Client interface {
	// Search returns the best-matching paper for the query, or nil when the
	// index has no match.
	Search(ctx context.Context, query string) (*Paper, error)
}

// Paper is the bibliographic record of one matched paper.
type Paper struct {
	Title    string
	Authors  []string
	Year     int
	Venue    string
	Abstract string
	URL      string
	DOI      string
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

// NewClient creates a Semantic Scholar API client. The API key is optional;
// without one the public rate limit applies.
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

type searchResponse struct {
	Data []struct {
		Title   string `json:"title"`
		Authors []struct {
			Name string `json:"name"`
		} `json:"authors"`
		Year        int            `json:"year"`
		Venue       string         `json:"venue"`
		Abstract    string         `json:"abstract"`
		URL         string         `json:"url"`
		ExternalIDs map[string]any `json:"externalIds"`
	} `json:"data"`
}

func (c *httpClient) Search(ctx context.Context, query string) (*Paper, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("limit", "1")
	q.Set("fields", "title,authors,year,abstract,url,externalIds,venue")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/graph/v1/paper/search?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "semanticscholar: create request")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "semanticscholar: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "semanticscholar: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("semanticscholar: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result searchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "semanticscholar: unmarshal response")
	}
	if len(result.Data) == 0 {
		return nil, nil
	}

	hit := result.Data[0]
	p := &Paper{
		Title:    hit.Title,
		Year:     hit.Year,
		Venue:    hit.Venue,
		Abstract: hit.Abstract,
		URL:      hit.URL,
	}
	for _, a := range hit.Authors {
		p.Authors = append(p.Authors, a.Name)
	}
	if doi, ok := hit.ExternalIDs["DOI"].(string); ok {
		p.DOI = doi
	}
	return p, nil
}

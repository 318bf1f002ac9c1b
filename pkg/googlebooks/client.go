// Package googlebooks is a minimal client for the Google Books volumes API,
// used to verify book citations.
package googlebooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://www.googleapis.com"

// Client searches the Google Books catalog.
type Client interface {
	// Search returns the best-matching volume for the query, or nil when the
	// catalog has no match.
	Search(ctx context.Context, query string) (*Volume, error)
}

// Volume is the bibliographic record of one matched book.
type Volume struct {
	Title         string
	Authors       []string
	Publisher     string
	PublishedDate string
	ISBN          string
	URL           string
	Description   string
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

// NewClient creates a Google Books API client.
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

type volumesResponse struct {
	Items []struct {
		VolumeInfo struct {
			Title               string   `json:"title"`
			Authors             []string `json:"authors"`
			Publisher           string   `json:"publisher"`
			PublishedDate       string   `json:"publishedDate"`
			Description         string   `json:"description"`
			PreviewLink         string   `json:"previewLink"`
			InfoLink            string   `json:"infoLink"`
			IndustryIdentifiers []struct {
				Type       string `json:"type"`
				Identifier string `json:"identifier"`
			} `json:"industryIdentifiers"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

func (c *httpClient) Search(ctx context.Context, query string) (*Volume, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("maxResults", strconv.Itoa(1))
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/books/v1/volumes?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "googlebooks: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "googlebooks: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "googlebooks: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("googlebooks: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result volumesResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "googlebooks: unmarshal response")
	}
	if len(result.Items) == 0 {
		return nil, nil
	}

	info := result.Items[0].VolumeInfo
	v := &Volume{
		Title:         info.Title,
		Authors:       info.Authors,
		Publisher:     info.Publisher,
		PublishedDate: info.PublishedDate,
		Description:   info.Description,
	}
	for _, ident := range info.IndustryIdentifiers {
		if ident.Type == "ISBN_13" || ident.Type == "ISBN_10" {
			v.ISBN = ident.Identifier
			break
		}
	}
	v.URL = info.PreviewLink
	if v.URL == "" {
		v.URL = info.InfoLink
	}
	return v, nil
}

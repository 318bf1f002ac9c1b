// Package ancient looks up ancient and classic religious texts in the Perseus
// Digital Library and the Christian Classics Ethereal Library (CCEL). Neither
// catalog exposes a JSON search API, so both lookups work off the public site
// search pages.
package ancient

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultPerseusBaseURL = "http://www.perseus.tufts.edu"
	defaultCCELBaseURL    = "https://www.ccel.org"

	// MethodPerseus and MethodCCEL are the verification method labels
	// recorded on sources found through this package.
	MethodPerseus = "perseus_digital_library"
	MethodCCEL    = "ccel"
)

// perseusMinBodyLen separates a real result page from an empty shell.
const perseusMinBodyLen = 1000

var ccelLinkRe = regexp.MustCompile(`href="(/ccel/[^"]+)"`)

// Client searches ancient-text catalogs.
type Client interface {
	// SearchPerseus returns a hit when the Perseus search page has results
	// for the query, nil otherwise.
	SearchPerseus(ctx context.Context, query string) (*Hit, error)
	// SearchCCEL returns the first CCEL work matching the query, nil when
	// there is none.
	SearchCCEL(ctx context.Context, query string) (*Hit, error)
}

// Hit is one catalog match.
type Hit struct {
	Method string
	URL    string
}

// Option configures the client.
type Option func(*httpClient)

// WithPerseusBaseURL overrides the Perseus base URL.
func WithPerseusBaseURL(url string) Option {
	return func(c *httpClient) {
		c.perseusBaseURL = url
	}
}

// WithCCELBaseURL overrides the CCEL base URL.
func WithCCELBaseURL(url string) Option {
	return func(c *httpClient) {
		c.ccelBaseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	perseusBaseURL string
	ccelBaseURL    string
	http           *http.Client
}

// NewClient creates an ancient-texts lookup client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		perseusBaseURL: defaultPerseusBaseURL,
		ccelBaseURL:    defaultCCELBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) SearchPerseus(ctx context.Context, query string) (*Hit, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("target", "text")
	searchURL := c.perseusBaseURL + "/hopper/searchresults?" + q.Encode()

	body, status, err := c.get(ctx, searchURL)
	if err != nil {
		return nil, eris.Wrap(err, "ancient: perseus search")
	}
	if status != http.StatusOK {
		return nil, nil
	}
	if len(body) < perseusMinBodyLen {
		return nil, nil
	}
	return &Hit{Method: MethodPerseus, URL: searchURL}, nil
}

func (c *httpClient) SearchCCEL(ctx context.Context, query string) (*Hit, error) {
	q := url.Values{}
	q.Set("qu", query)

	body, status, err := c.get(ctx, c.ccelBaseURL+"/search?"+q.Encode())
	if err != nil {
		return nil, eris.Wrap(err, "ancient: ccel search")
	}
	if status != http.StatusOK {
		return nil, nil
	}
	text := string(body)
	if strings.Contains(text, "No results found") {
		return nil, nil
	}
	m := ccelLinkRe.FindStringSubmatch(text)
	if m == nil {
		return nil, nil
	}
	return &Hit{Method: MethodCCEL, URL: c.ccelBaseURL + m[1]}, nil
}

func (c *httpClient) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "create request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, eris.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, eris.Wrap(err, "read response")
	}
	return body, resp.StatusCode, nil
}

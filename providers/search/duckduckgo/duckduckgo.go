package duckduckgo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/leofalp/stategraph/providers/observability"
	"github.com/leofalp/stategraph/providers/webpage"
	"github.com/leofalp/stategraph/research"
)

const (
	// DefaultBaseURL is the Instant Answer endpoint.
	DefaultBaseURL = "https://api.duckduckgo.com/"

	defaultUserAgent = "stategraph-duckduckgo/1.0"
	defaultTimeout   = 15 * time.Second
	siteURL          = "https://duckduckgo.com"
)

var _ research.Search = (*Client)(nil)

// Client implements research.Search.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint, mostly for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithHTTPClient replaces the default client with its 15s timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// New returns a client for the public API.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		userAgent:  defaultUserAgent,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search returns at most limit results: the abstract first, then direct
// results, then related topics. Entries without a URL are skipped.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]research.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}

	response, err := c.fetch(ctx, query)
	if err != nil {
		return nil, err
	}
	results := response.results()
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	if observer := observability.ObserverFromContext(ctx); observer != nil {
		observer.Debug(ctx, "duckduckgo search completed",
			observability.String("search.query", query),
			observability.Int("search.results", len(results)),
		)
	}
	return results, nil
}

func (c *Client) fetch(ctx context.Context, query string) (*apiResponse, error) {
	params := url.Values{}
	params.Add("q", query)
	params.Add("format", "json")
	params.Add("no_html", "1")
	params.Add("skip_disambig", "1")
	fullURL := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			if observer := observability.ObserverFromContext(ctx); observer != nil {
				observer.Warn(ctx, "failed to close response body", observability.Error(closeErr))
			}
		}
	}()

	// The API answers 202 while it warms up a query; the body is still valid.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, &webpage.StatusError{URL: fullURL, StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}
	var response apiResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("error parsing response: %w", err)
	}
	return &response, nil
}

type apiResponse struct {
	Heading       string  `json:"Heading"`
	AbstractText  string  `json:"AbstractText"`
	AbstractURL   string  `json:"AbstractURL"`
	Results       []topic `json:"Results"`
	RelatedTopics []topic `json:"RelatedTopics"`
}

// topic is a result or related topic. Disambiguation groups nest further
// topics under a Name instead of carrying a URL.
type topic struct {
	FirstURL string  `json:"FirstURL"`
	Text     string  `json:"Text"`
	Name     string  `json:"Name"`
	Topics   []topic `json:"Topics"`
}

func (response *apiResponse) results() []research.SearchResult {
	var results []research.SearchResult
	seen := make(map[string]bool)
	add := func(title, link, snippet string) {
		link = makeAbsoluteURL(link)
		if link == "" || seen[link] {
			return
		}
		seen[link] = true
		results = append(results, research.SearchResult{Title: title, URL: link, Snippet: snippet})
	}

	add(response.Heading, response.AbstractURL, response.AbstractText)
	for _, t := range flatten(response.Results) {
		add(titleOf(t.Text), t.FirstURL, t.Text)
	}
	for _, t := range flatten(response.RelatedTopics) {
		add(titleOf(t.Text), t.FirstURL, t.Text)
	}
	return results
}

func flatten(topics []topic) []topic {
	var flat []topic
	for _, t := range topics {
		if len(t.Topics) > 0 {
			flat = append(flat, flatten(t.Topics)...)
			continue
		}
		flat = append(flat, t)
	}
	return flat
}

// titleOf takes the part of a topic text before the " - " description.
func titleOf(text string) string {
	title, _, _ := strings.Cut(text, " - ")
	return strings.TrimSpace(title)
}

// makeAbsoluteURL resolves the relative links the API uses for its own pages.
func makeAbsoluteURL(urlPath string) string {
	if urlPath == "" {
		return ""
	}
	if strings.HasPrefix(urlPath, "http://") || strings.HasPrefix(urlPath, "https://") {
		return urlPath
	}
	if strings.HasPrefix(urlPath, "/") {
		return siteURL + urlPath
	}
	return urlPath
}

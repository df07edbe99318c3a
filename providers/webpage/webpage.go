package webpage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/leofalp/stategraph/providers/observability"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 30 * time.Second
	// DefaultUserAgent is the default User-Agent header value
	DefaultUserAgent = "stategraph-webpage/1.0"
	// DefaultMaxBodySize is the default response body limit (10MB)
	DefaultMaxBodySize = 10 * 1024 * 1024

	dialTimeout           = 10 * time.Second
	tlsHandshakeTimeout   = 10 * time.Second
	responseHeaderTimeout = 10 * time.Second
	idleConnTimeout       = 90 * time.Second
	maxRedirects          = 10
)

// ErrEmptyURL is returned by Fetch for a blank URL.
var ErrEmptyURL = errors.New("URL cannot be empty")

// StatusError reports a response with an unexpected status. The search and
// completion clients return it too, so one retry rule covers every HTTP
// collaborator.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status code %d (%s)", e.URL, e.StatusCode, e.Status)
}

// Temporary reports whether retrying the request later may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// IsTemporary reports whether err is a fetch failure worth retrying: a
// temporary status, a timeout or a network error.
func IsTemporary(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Page is a fetched web page.
type Page struct {
	// URL is the final URL after redirects.
	URL      string `json:"url"`
	Markdown string `json:"markdown"`
	// HTML is only set when the fetcher was built WithHTML.
	HTML string `json:"html,omitempty"`
}

// Fetcher downloads pages over HTTP. The zero value is not usable; create
// one with New.
type Fetcher struct {
	client      *http.Client
	timeout     time.Duration
	userAgent   string
	maxBodySize int64
	includeHTML bool
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTimeout bounds each Fetch call.
func WithTimeout(timeout time.Duration) Option {
	return func(f *Fetcher) {
		f.timeout = timeout
	}
}

// WithUserAgent sets the User-Agent header of every request.
func WithUserAgent(userAgent string) Option {
	return func(f *Fetcher) {
		f.userAgent = userAgent
	}
}

// WithMaxBodySize limits how many bytes of a response body are read.
func WithMaxBodySize(size int64) Option {
	return func(f *Fetcher) {
		f.maxBodySize = size
	}
}

// WithHTML keeps the raw HTML next to the Markdown.
func WithHTML() Option {
	return func(f *Fetcher) {
		f.includeHTML = true
	}
}

// WithHTTPClient replaces the default client. Its redirect policy is kept.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// New returns a Fetcher with a client tuned for slow or unresponsive servers.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		timeout:     DefaultTimeout,
		userAgent:   DefaultUserAgent,
		maxBodySize: DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   dialTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   tlsHandshakeTimeout,
				ResponseHeaderTimeout: responseHeaderTimeout,
				IdleConnTimeout:       idleConnTimeout,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				ForceAttemptHTTP2:     true,
			},
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects (>%d)", maxRedirects)
				}
				return nil
			},
		}
	}
	return f
}

// Fetch retrieves rawURL and converts the body to Markdown. URLs without a
// scheme get "https://".
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	url := normalizeURL(rawURL)
	if url == "" {
		return nil, ErrEmptyURL
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var span observability.Span
	if observer := observability.ObserverFromContext(ctx); observer != nil {
		ctx, span = observer.StartSpan(ctx, observability.SpanWebpageFetch,
			observability.String(observability.AttrHTTPMethod, http.MethodGet),
			observability.String(observability.AttrHTTPURL, url),
		)
		defer span.End()
	}

	page, err := f.fetch(ctx, url, span)
	if span != nil {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(observability.StatusError, err.Error())
		} else {
			span.SetStatus(observability.StatusOK, "")
		}
	}
	return page, err
}

func (f *Fetcher) fetch(ctx context.Context, url string, span observability.Span) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch %s: request timeout or canceled: %w", url, ctx.Err())
		}
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer closeBody(ctx, resp.Body)

	if span != nil {
		span.SetAttributes(observability.Int(observability.AttrHTTPStatusCode, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	}

	body, err := f.readBody(ctx, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if span != nil {
		span.SetAttributes(observability.Int(observability.AttrHTTPResponseBodySize, len(body)))
	}

	markdown, err := htmltomarkdown.ConvertString(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to convert HTML to Markdown: %w", err)
	}

	page := &Page{URL: resp.Request.URL.String(), Markdown: markdown}
	if f.includeHTML {
		page.HTML = string(body)
	}
	return page, nil
}

// readBody reads at most maxBodySize bytes in a goroutine so that a slow
// body still honours ctx.
func (f *Fetcher) readBody(ctx context.Context, body io.Reader) ([]byte, error) {
	type readResult struct {
		data []byte
		err  error
	}

	results := make(chan readResult, 1)
	go func() {
		data, err := io.ReadAll(io.LimitReader(body, f.maxBodySize+1))
		results <- readResult{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("timeout while reading response body: %w", ctx.Err())
	case result := <-results:
		if result.err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", result.err)
		}
		if int64(len(result.data)) > f.maxBodySize {
			return nil, fmt.Errorf("response body exceeds maximum size of %d bytes", f.maxBodySize)
		}
		return result.data, nil
	}
}

func normalizeURL(raw string) string {
	url := strings.TrimSpace(raw)
	if url == "" {
		return ""
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}
	return url
}

func closeBody(ctx context.Context, body io.Closer) {
	if err := body.Close(); err != nil {
		if observer := observability.ObserverFromContext(ctx); observer != nil {
			observer.Warn(ctx, "failed to close response body", observability.Error(err))
		}
	}
}

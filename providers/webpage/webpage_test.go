package webpage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/leofalp/stategraph/providers/observability"
	"github.com/leofalp/stategraph/providers/observability/slogobs"
)

const samplePage = `
<!DOCTYPE html>
<html>
<head><title>Acme</title></head>
<body>
	<h1>Acme Corp</h1>
	<p>Makers of <strong>anvils</strong>.</p>
	<ul>
		<li>Founded 1949</li>
		<li>Desert Division</li>
	</ul>
</body>
</html>`

func TestFetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != DefaultUserAgent {
			t.Errorf("User-Agent = %q, want %q", got, DefaultUserAgent)
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, samplePage)
	}))
	defer server.Close()

	page, err := New().Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if page.URL != server.URL {
		t.Errorf("URL = %s, want %s", page.URL, server.URL)
	}
	if !strings.Contains(page.Markdown, "# Acme Corp") {
		t.Errorf("Markdown should contain the heading, got:\n%s", page.Markdown)
	}
	if !strings.Contains(page.Markdown, "**anvils**") {
		t.Errorf("Markdown should keep emphasis, got:\n%s", page.Markdown)
	}
	if page.HTML != "" {
		t.Error("HTML should be empty without WithHTML")
	}
}

func TestFetch_WithHTMLAndUserAgent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.Header.Get("User-Agent"))
	}))
	defer server.Close()

	page, err := New(WithHTML(), WithUserAgent("research-bot/2")).Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if page.HTML != "research-bot/2" {
		t.Errorf("HTML = %q, want the echoed user agent", page.HTML)
	}
}

func TestFetch_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<p>moved</p>")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	page, err := New().Fetch(context.Background(), server.URL+"/old")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if page.URL != server.URL+"/new" {
		t.Errorf("URL = %s, want the redirect target", page.URL)
	}
}

func TestFetch_TooManyRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}))
	defer server.Close()

	_, err := New().Fetch(context.Background(), server.URL+"/")
	if err == nil || !strings.Contains(err.Error(), "too many redirects") {
		t.Fatalf("expected redirect limit error, got %v", err)
	}
}

func TestFetch_EmptyURL(t *testing.T) {
	for _, url := range []string{"", "   "} {
		_, err := New().Fetch(context.Background(), url)
		if !errors.Is(err, ErrEmptyURL) {
			t.Errorf("Fetch(%q) error = %v, want ErrEmptyURL", url, err)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"example.com", "https://example.com"},
		{"  example.com/a  ", "https://example.com/a"},
		{"http://example.com", "http://example.com"},
		{"https://example.com", "https://example.com"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeURL(tt.input); got != tt.want {
			t.Errorf("normalizeURL(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFetch_StatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		temporary bool
	}{
		{http.StatusNotFound, false},
		{http.StatusForbidden, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("Status_%d", tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := New().Fetch(context.Background(), server.URL)
			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("expected *StatusError, got %v", err)
			}
			if statusErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, tt.status)
			}
			if IsTemporary(err) != tt.temporary {
				t.Errorf("IsTemporary = %v, want %v", IsTemporary(err), tt.temporary)
			}
		})
	}
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	start := time.Now()
	_, err := New(WithTimeout(200*time.Millisecond)).Fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
	if !IsTemporary(err) {
		t.Error("timeouts should be temporary")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}

func TestFetch_SlowBodyRead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for i := 0; i < 20; i++ {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			fmt.Fprint(w, "<p>x</p>")
			flusher.Flush()
		}
	}))
	defer server.Close()

	_, err := New(WithTimeout(300*time.Millisecond)).Fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected timeout while reading the body")
	}
	if !strings.Contains(err.Error(), "timeout") && !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected timeout error, got %v", err)
	}
}

func TestFetch_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := New().Fetch(ctx, server.URL)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if IsTemporary(err) {
		t.Error("cancellation should not be temporary")
	}
}

func TestFetch_MaxBodySize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("a", 64))
	}))
	defer server.Close()

	_, err := New(WithMaxBodySize(32)).Fetch(context.Background(), server.URL)
	if err == nil || !strings.Contains(err.Error(), "exceeds maximum size of 32 bytes") {
		t.Fatalf("expected size limit error, got %v", err)
	}

	if _, err := New(WithMaxBodySize(64)).Fetch(context.Background(), server.URL); err != nil {
		t.Fatalf("a body of exactly the limit should pass: %v", err)
	}
}

func TestFetch_RecordsSpan(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, samplePage)
	}))
	defer server.Close()

	var buf bytes.Buffer
	observer := slogobs.New(
		slogobs.WithFormat(slogobs.FormatJSON),
		slogobs.WithLevel(slogobs.LevelTrace),
		slogobs.WithOutput(&buf),
	)
	ctx := observability.ContextWithObserver(context.Background(), observer)

	if _, err := New().Fetch(ctx, server.URL); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		`"span":"webpage.fetch"`,
		`"event":"span.end"`,
		`"http.status_code":200`,
		`"http.url":"` + server.URL + `"`,
		`"status":"ok"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s:\n%s", want, out)
		}
	}
}

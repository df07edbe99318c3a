package research

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/leofalp/stategraph/providers/webpage"
)

// fakeCompletion answers planning prompts with plan and summary prompts
// with "<aspect> of <title>".
type fakeCompletion struct {
	mu      sync.Mutex
	plan    string
	prompts []string
}

func (completion *fakeCompletion) Complete(_ context.Context, prompt string) (string, error) {
	completion.mu.Lock()
	completion.prompts = append(completion.prompts, prompt)
	completion.mu.Unlock()

	if strings.HasPrefix(prompt, "List ") {
		return completion.plan, nil
	}
	var aspect, title string
	fmt.Sscanf(prompt, "Summarize the %s of %q", &aspect, &title)
	return fmt.Sprintf("%s of %s", aspect, title), nil
}

func (completion *fakeCompletion) calls() int {
	completion.mu.Lock()
	defer completion.mu.Unlock()
	return len(completion.prompts)
}

type fakeSearch struct {
	mu      sync.Mutex
	results map[string][]SearchResult
	queries []string
}

func (search *fakeSearch) Search(_ context.Context, query string, limit int) ([]SearchResult, error) {
	search.mu.Lock()
	defer search.mu.Unlock()
	search.queries = append(search.queries, query)
	results := search.results[query]
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// fakeRecords returns records per subject name. failures makes the first n
// lookups of a subject fail with err.
type fakeRecords struct {
	mu       sync.Mutex
	records  map[string][]Candidate
	failures map[string]int
	err      error
	calls    map[string]int
}

func (records *fakeRecords) Lookup(_ context.Context, subject Subject) ([]Candidate, error) {
	records.mu.Lock()
	defer records.mu.Unlock()
	if records.calls == nil {
		records.calls = make(map[string]int)
	}
	records.calls[subject.Name]++
	if records.failures[subject.Name] > 0 {
		records.failures[subject.Name]--
		return nil, records.err
	}
	return records.records[subject.Name], nil
}

func (records *fakeRecords) callsFor(name string) int {
	records.mu.Lock()
	defer records.mu.Unlock()
	return records.calls[name]
}

type fakePages struct {
	mu      sync.Mutex
	pages   map[string]string
	fetched []string
}

func (pages *fakePages) Fetch(_ context.Context, url string) (*webpage.Page, error) {
	pages.mu.Lock()
	defer pages.mu.Unlock()
	pages.fetched = append(pages.fetched, url)
	markdown, ok := pages.pages[url]
	if !ok {
		return nil, &webpage.StatusError{URL: url, StatusCode: http.StatusNotFound, Status: "Not Found"}
	}
	return &webpage.Page{URL: url, Markdown: markdown}, nil
}

// fakeRenderer renders one line per section.
type fakeRenderer struct {
	mu      sync.Mutex
	reports []Report
}

func (renderer *fakeRenderer) Render(_ context.Context, report Report) (Document, error) {
	renderer.mu.Lock()
	renderer.reports = append(renderer.reports, report)
	renderer.mu.Unlock()

	var content strings.Builder
	fmt.Fprintf(&content, "# %s\n", report.Topic)
	for _, section := range report.Sections {
		fmt.Fprintf(&content, "## %s\n", section.Title)
		for _, note := range section.Notes {
			fmt.Fprintf(&content, "- %s\n", note.Text)
		}
	}
	return Document{Format: "markdown", Content: content.String()}, nil
}

type fixture struct {
	completion *fakeCompletion
	search     *fakeSearch
	records    *fakeRecords
	pages      *fakePages
	renderer   *fakeRenderer
}

func newFixture() *fixture {
	return &fixture{
		completion: &fakeCompletion{
			plan: "```json\n[{\"name\": \"iron\"}, {\"name\": \"steel\", \"form\": \"bar\"},]\n```",
		},
		search: &fakeSearch{results: map[string][]SearchResult{
			"Steel Bar steel": {{Title: "Steel Bar", URL: "https://example.com/steel-bar"}},
		}},
		records: &fakeRecords{records: map[string][]Candidate{
			"iron": {
				{ID: "iron-1", Title: "Cast Iron", URL: "https://example.com/cast-iron"},
				{ID: "iron-2", Title: "Wrought Iron", URL: "https://example.com/wrought-iron"},
			},
			"steel":  {{ID: "steel-1", Title: "Steel Bar"}},
			"bronze": {{ID: "bronze-1", Title: "Bronze", URL: "https://example.com/bronze"}},
		}},
		pages: &fakePages{pages: map[string]string{
			"https://example.com/cast-iron":   "Cast iron is brittle.",
			"https://example.com/wrought-iron": "Wrought iron is tough.",
			"https://example.com/steel-bar":   "Steel bars are rolled.",
			"https://example.com/bronze":      "Bronze is copper and tin.",
		}},
		renderer: &fakeRenderer{},
	}
}

func (f *fixture) collaborators() Collaborators {
	return Collaborators{
		Completion: f.completion,
		Search:     f.search,
		Records:    f.records,
		Renderer:   f.renderer,
		Pages:      f.pages,
	}
}

package research

import (
	"context"

	"github.com/leofalp/stategraph/providers/webpage"
)

// Completion generates text for a prompt.
type Completion interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Search runs a web search and returns at most limit results.
type Search interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// Records looks up reference records matching a subject.
type Records interface {
	Lookup(ctx context.Context, subject Subject) ([]Candidate, error)
}

// Renderer turns a report into a document.
type Renderer interface {
	Render(ctx context.Context, report Report) (Document, error)
}

// PageFetcher downloads a page as Markdown. *webpage.Fetcher implements it.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*webpage.Page, error)
}

var _ PageFetcher = (*webpage.Fetcher)(nil)

// Collaborators groups the services the pipeline calls. All are required.
type Collaborators struct {
	Completion Completion
	Search     Search
	Records    Records
	Renderer   Renderer
	Pages      PageFetcher
}

// Subject is one thing to look up.
type Subject struct {
	Name string `json:"name"`
	// Form narrows the lookup, for example a product form or a region.
	Form string `json:"form,omitempty"`
}

// Candidate is a record returned by a lookup.
type Candidate struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Subject string `json:"subject"`
	URL     string `json:"url,omitempty"`
	Source  string `json:"source,omitempty"`
}

// SearchResult is one hit returned by a Search.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Note is the summary of one aspect of a candidate's page.
type Note struct {
	Aspect string `json:"aspect"`
	Text   string `json:"text"`
}

// Section is the enrichment result of one candidate.
type Section struct {
	CandidateID string `json:"candidate_id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Notes       []Note `json:"notes"`
}

// Report is the consolidated result handed to the Renderer.
type Report struct {
	Topic    string    `json:"topic"`
	Subjects []Subject `json:"subjects,omitempty"`
	Sections []Section `json:"sections"`
}

// Document is a rendered report.
type Document struct {
	Format  string `json:"format"`
	Content string `json:"content"`
}

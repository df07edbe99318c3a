package research

import (
	"context"
	"fmt"
	"strings"
)

// SearchRecords implements Records with a web search, for deployments
// without a dedicated records service. Each result becomes a candidate.
type SearchRecords struct {
	Search Search
	// Limit caps the candidates per subject. Zero means 5.
	Limit int
}

var _ Records = SearchRecords{}

// Lookup searches for the subject and turns each result into a candidate.
func (records SearchRecords) Lookup(ctx context.Context, subject Subject) ([]Candidate, error) {
	limit := records.Limit
	if limit <= 0 {
		limit = 5
	}
	query := strings.TrimSpace(subject.Name + " " + subject.Form)
	results, err := records.Search.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search records for %q: %w", query, err)
	}

	candidates := make([]Candidate, 0, len(results))
	for _, result := range results {
		title := result.Title
		if title == "" {
			title = result.URL
		}
		candidates = append(candidates, Candidate{
			Title:   title,
			Subject: subject.Name,
			URL:     result.URL,
			Source:  "search",
		})
	}
	return candidates, nil
}

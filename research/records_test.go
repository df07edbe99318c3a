package research

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type failingSearch struct{ err error }

func (search failingSearch) Search(context.Context, string, int) ([]SearchResult, error) {
	return nil, search.err
}

func TestSearchRecords(testCase *testing.T) {
	search := &fakeSearch{results: map[string][]SearchResult{
		"steel bar": {
			{Title: "Steel Bar", URL: "https://example.com/steel-bar"},
			{URL: "https://example.com/untitled"},
		},
	}}

	candidates, err := SearchRecords{Search: search}.Lookup(context.Background(), Subject{Name: "steel", Form: "bar"})
	if err != nil {
		testCase.Fatalf("Lookup failed: %v", err)
	}
	want := []Candidate{
		{Title: "Steel Bar", Subject: "steel", URL: "https://example.com/steel-bar", Source: "search"},
		{Title: "https://example.com/untitled", Subject: "steel", URL: "https://example.com/untitled", Source: "search"},
	}
	if diff := cmp.Diff(want, candidates); diff != "" {
		testCase.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}

	candidates, err = SearchRecords{Search: search, Limit: 1}.Lookup(context.Background(), Subject{Name: "steel", Form: "bar"})
	if err != nil || len(candidates) != 1 {
		testCase.Errorf("expected one candidate, got %v, %v", candidates, err)
	}
}

func TestSearchRecords_Error(testCase *testing.T) {
	cause := errors.New("search down")
	_, err := SearchRecords{Search: failingSearch{err: cause}}.Lookup(context.Background(), Subject{Name: "iron"})
	if !errors.Is(err, cause) {
		testCase.Errorf("expected the search error, got %v", err)
	}
}

func TestSearchRecords_InPipeline(testCase *testing.T) {
	f := newFixture()
	f.search.results["bronze"] = []SearchResult{{Title: "Bronze", URL: "https://example.com/bronze"}}
	collaborators := f.collaborators()
	collaborators.Records = SearchRecords{Search: f.search}
	pipeline, err := New(collaborators, nil, WithAspects("overview"))
	if err != nil {
		testCase.Fatalf("New failed: %v", err)
	}

	outcome := mustStart(testCase, pipeline, "search-records", Request{Topic: "alloys", Subjects: []Subject{{Name: "bronze"}}})
	if outcome.Review == nil || len(outcome.Review.Candidates) != 1 {
		testCase.Fatalf("expected one candidate for review, got %+v", outcome)
	}
	if id := outcome.Review.Candidates[0].ID; id != "bronze#0" {
		testCase.Errorf("candidate id = %q, want bronze#0", id)
	}
}

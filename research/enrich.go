package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/leofalp/stategraph/graph"
	"github.com/leofalp/stategraph/providers/observability"
	"github.com/leofalp/stategraph/providers/webpage"
)

// Keys and nodes of the enrichment subgraph. keyCandidate and keySections
// are shared with the parent graph.
const (
	keyPage   = "page"
	keyAspect = "aspect"
	keyNotes  = "notes"

	nodeFetch     = "fetch"
	nodeSummarize = "summarize"
	nodeCollect   = "collect"
)

// ErrNoSource is returned when a candidate has no URL and the search finds
// no page for it.
var ErrNoSource = errors.New("no source page found")

// buildEnrichment compiles the per-candidate subgraph: fetch the page, fan
// out one summary per aspect, collect the notes into a section.
func (p *Pipeline) buildEnrichment() (*graph.Graph, error) {
	schema := graph.Schema{
		keyCandidate: graph.Overwrite(),
		keyPage:      graph.Overwrite(),
		keyAspect:    graph.Overwrite(),
		keyNotes:     graph.Append(),
		keySections:  graph.Append(),
	}

	opts := append([]graph.Option{graph.WithName("enrichment")}, p.settings.graphOptions...)
	return graph.NewBuilder(schema, opts...).
		AddNode(nodeFetch, p.fetch, []string{keyCandidate}, []string{keyPage}).
		AddNode(nodeSummarize, p.summarize, []string{keyCandidate, keyPage, keyAspect}, []string{keyNotes}).
		AddNode(nodeCollect, p.collect, []string{keyCandidate, keyPage, keyNotes}, []string{keySections}).
		AddEdge(graph.Start, nodeFetch).
		AddConditionalEdge(nodeFetch, p.routeAspects, []string{nodeSummarize}).
		AddEdge(nodeSummarize, nodeCollect).
		AddEdge(nodeCollect, graph.End).
		Compile(nil)
}

func (p *Pipeline) routeAspects(_ context.Context, _ graph.View) (graph.Route, error) {
	sends := make([]graph.Send, len(p.settings.aspects))
	for i, aspect := range p.settings.aspects {
		sends[i] = graph.Send{Node: nodeSummarize, Payload: map[string]any{keyAspect: aspect}}
	}
	return graph.Dispatch(sends...), nil
}

// fetch downloads the candidate's page, searching for one when the record
// carries no URL.
func (p *Pipeline) fetch(ctx context.Context, state graph.View, _ graph.RunConfig) (graph.Output, error) {
	candidate, err := graph.Get[Candidate](state, keyCandidate)
	if err != nil {
		return nil, err
	}

	url := candidate.URL
	if url == "" {
		query := strings.TrimSpace(candidate.Title + " " + candidate.Subject)
		results, err := withRetry(ctx, p.settings.retry, "search", func(ctx context.Context) ([]SearchResult, error) {
			return p.collaborators.Search.Search(ctx, query, 1)
		})
		if err != nil {
			return nil, fmt.Errorf("search source of %q: %w", candidate.ID, err)
		}
		if len(results) == 0 || results[0].URL == "" {
			return nil, fmt.Errorf("candidate %q: %w", candidate.ID, ErrNoSource)
		}
		url = results[0].URL
	}

	page, err := withRetry(ctx, p.settings.retry, "fetch", func(ctx context.Context) (*webpage.Page, error) {
		return p.collaborators.Pages.Fetch(ctx, url)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch source of %q: %w", candidate.ID, err)
	}
	if len(page.Markdown) > p.settings.maxPageChars {
		page.Markdown = page.Markdown[:p.settings.maxPageChars]
	}

	if observer := observability.ObserverFromContext(ctx); observer != nil {
		observer.Debug(ctx, "source page fetched",
			observability.String("research.candidate", candidate.ID),
			observability.String(observability.AttrHTTPURL, page.URL),
			observability.Int("research.page_chars", len(page.Markdown)),
		)
	}
	return graph.Update{keyPage: page}, nil
}

// summarize runs once per aspect.
func (p *Pipeline) summarize(ctx context.Context, state graph.View, _ graph.RunConfig) (graph.Output, error) {
	candidate, err := graph.Get[Candidate](state, keyCandidate)
	if err != nil {
		return nil, err
	}
	page, err := graph.Get[webpage.Page](state, keyPage)
	if err != nil {
		return nil, err
	}
	aspect, err := graph.Get[string](state, keyAspect)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf("Summarize the %s of %q from the page below in a short paragraph. "+
		"Say 'not stated' when the page does not cover it.\n\n%s", aspect, candidate.Title, page.Markdown)
	text, err := withRetry(ctx, p.settings.retry, "completion", func(ctx context.Context) (string, error) {
		return p.collaborators.Completion.Complete(ctx, prompt)
	})
	if err != nil {
		return nil, fmt.Errorf("summarize %s of %q: %w", aspect, candidate.ID, err)
	}
	return graph.Update{keyNotes: Note{Aspect: aspect, Text: strings.TrimSpace(text)}}, nil
}

// collect turns the notes of all aspects into the candidate's section.
func (p *Pipeline) collect(_ context.Context, state graph.View, _ graph.RunConfig) (graph.Output, error) {
	candidate, err := graph.Get[Candidate](state, keyCandidate)
	if err != nil {
		return nil, err
	}
	page, err := graph.Get[webpage.Page](state, keyPage)
	if err != nil {
		return nil, err
	}
	notes, _, err := graph.Lookup[[]Note](state, keyNotes)
	if err != nil {
		return nil, err
	}
	return graph.Update{keySections: Section{
		CandidateID: candidate.ID,
		Title:       candidate.Title,
		URL:         page.URL,
		Notes:       notes,
	}}, nil
}

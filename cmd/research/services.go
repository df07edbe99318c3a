package main

import (
	"github.com/leofalp/stategraph/providers/completion/openai"
	"github.com/leofalp/stategraph/providers/search/duckduckgo"
	"github.com/leofalp/stategraph/providers/webpage"
	"github.com/leofalp/stategraph/research"
)

type serviceOptions struct {
	model string
}

// liveCollaborators wires the public services. Records come from the same
// search as page discovery.
func liveCollaborators(opts serviceOptions) research.Collaborators {
	var completionOpts []openai.Option
	if opts.model != "" {
		completionOpts = append(completionOpts, openai.WithModel(opts.model))
	}
	search := duckduckgo.New()
	return research.Collaborators{
		Completion: openai.New(completionOpts...),
		Search:     search,
		Records:    research.SearchRecords{Search: search},
		Renderer:   research.MarkdownRenderer(),
		Pages:      webpage.New(),
	}
}

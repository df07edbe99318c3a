// Package duckduckgo searches the web through the DuckDuckGo Instant Answer
// API. The API is free and needs no key, but it only returns instant answers
// and related topics, not a full result page.
//
//	search := duckduckgo.New()
//	results, err := search.Search(ctx, "cast iron", 3)
package duckduckgo

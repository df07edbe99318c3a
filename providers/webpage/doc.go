// Package webpage fetches web pages and converts them to Markdown.
//
// A [Fetcher] is the page collaborator of the research pipeline: it follows
// redirects, caps the body size and reports every fetch as a
// [observability.SpanWebpageFetch] span when an observer is present in the
// context. Failures a caller may retry (timeouts, 429 and 5xx responses) are
// reported as [*StatusError] with Temporary set, or satisfy [IsTemporary].
package webpage

// Package observability defines the tracing, metrics and logging interfaces
// used across stategraph.
//
// The entry point is [Provider], which composes [Tracer], [Metrics] and
// [Logger]. Components receive a Provider through options or pick it up from
// a context with [ObserverFromContext]; the active span travels the same way
// through [ContextWithSpan] and [SpanFromContext]. A nil Provider means
// observability is off and costs nothing.
//
// semconv.go holds the attribute keys, span names and metric names every
// component records under.
package observability

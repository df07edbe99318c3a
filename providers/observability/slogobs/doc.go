// Package slogobs implements observability.Provider on top of log/slog.
//
// Spans and metric updates become debug records, so a run can be followed
// end to end with nothing more than STATEGRAPH_LOG_LEVEL=debug. Counter totals
// and histogram summaries are also kept in memory and can be read back with
// [Observer.CounterValue] and [Observer.HistogramStats].
package slogobs

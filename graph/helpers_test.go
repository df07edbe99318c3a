package graph

import (
	"context"
	"sync"
	"testing"

	"github.com/leofalp/stategraph/checkpoint"
	"github.com/leofalp/stategraph/providers/observability"
)

// --- node helpers ---

// writeNode returns a node that writes value under key.
func writeNode(key string, value any) NodeFunc {
	return func(context.Context, View, RunConfig) (Output, error) {
		return Update{key: value}, nil
	}
}

// countingNode wraps fn and counts its invocations.
type countingNode struct {
	mu    sync.Mutex
	calls int
	fn    NodeFunc
}

func (counter *countingNode) run(ctx context.Context, state View, config RunConfig) (Output, error) {
	counter.mu.Lock()
	counter.calls++
	counter.mu.Unlock()
	if counter.fn == nil {
		return nil, nil
	}
	return counter.fn(ctx, state, config)
}

func (counter *countingNode) count() int {
	counter.mu.Lock()
	defer counter.mu.Unlock()
	return counter.calls
}

func sumCombine(current, update any) any {
	return toFloat(current) + toFloat(update)
}

func toFloat(value any) float64 {
	switch typed := value.(type) {
	case float64:
		return typed
	case int:
		return float64(typed)
	default:
		return 0
	}
}

func mustCompile(testCase *testing.T, builder *Builder, store checkpoint.Store) *Graph {
	testCase.Helper()
	compiled, err := builder.Compile(store)
	if err != nil {
		testCase.Fatalf("compile failed: %v", err)
	}
	return compiled
}

func mustRun(testCase *testing.T, compiled *Graph, input State, runID string, opts ...RunOption) *Result {
	testCase.Helper()
	result, err := compiled.Run(context.Background(), input, runID, opts...)
	if err != nil {
		testCase.Fatalf("run failed: %v", err)
	}
	return result
}

func historyOf(testCase *testing.T, store checkpoint.Store, runID string) []*checkpoint.Checkpoint {
	testCase.Helper()
	records, err := store.History(context.Background(), runID)
	if err != nil {
		testCase.Fatalf("history failed: %v", err)
	}
	return records
}

// --- observer ---

// testObserver implements observability.Provider and records what the
// engine reports.
type testObserver struct {
	mu       sync.Mutex
	spans    []string
	logs     []string
	counters map[string]int64
	records  map[string]int
}

var _ observability.Provider = (*testObserver)(nil)

func newTestObserver() *testObserver {
	return &testObserver{
		counters: make(map[string]int64),
		records:  make(map[string]int),
	}
}

func (observer *testObserver) StartSpan(ctx context.Context, name string, _ ...observability.Attribute) (context.Context, observability.Span) {
	observer.mu.Lock()
	defer observer.mu.Unlock()
	observer.spans = append(observer.spans, name)
	span := &testSpan{name: name}
	return observability.ContextWithSpan(ctx, span), span
}

func (observer *testObserver) log(msg string) {
	observer.mu.Lock()
	defer observer.mu.Unlock()
	observer.logs = append(observer.logs, msg)
}

func (observer *testObserver) Trace(_ context.Context, msg string, _ ...observability.Attribute) {
	observer.log(msg)
}

func (observer *testObserver) Debug(_ context.Context, msg string, _ ...observability.Attribute) {
	observer.log(msg)
}

func (observer *testObserver) Info(_ context.Context, msg string, _ ...observability.Attribute) {
	observer.log(msg)
}

func (observer *testObserver) Warn(_ context.Context, msg string, _ ...observability.Attribute) {
	observer.log(msg)
}

func (observer *testObserver) Error(_ context.Context, msg string, _ ...observability.Attribute) {
	observer.log(msg)
}

func (observer *testObserver) Counter(name string) observability.Counter {
	return &testCounter{name: name, observer: observer}
}

func (observer *testObserver) Histogram(name string) observability.Histogram {
	return &testHistogram{name: name, observer: observer}
}

func (observer *testObserver) spanCount(name string) int {
	observer.mu.Lock()
	defer observer.mu.Unlock()
	count := 0
	for _, span := range observer.spans {
		if span == name {
			count++
		}
	}
	return count
}

func (observer *testObserver) hasLog(msg string) bool {
	observer.mu.Lock()
	defer observer.mu.Unlock()
	for _, logged := range observer.logs {
		if logged == msg {
			return true
		}
	}
	return false
}

func (observer *testObserver) counter(name string) int64 {
	observer.mu.Lock()
	defer observer.mu.Unlock()
	return observer.counters[name]
}

func (observer *testObserver) recorded(name string) int {
	observer.mu.Lock()
	defer observer.mu.Unlock()
	return observer.records[name]
}

type testSpan struct {
	name string
}

func (span *testSpan) End()                                        {}
func (span *testSpan) SetAttributes(...observability.Attribute)    {}
func (span *testSpan) SetStatus(observability.StatusCode, string)  {}
func (span *testSpan) RecordError(error)                           {}
func (span *testSpan) AddEvent(string, ...observability.Attribute) {}

type testCounter struct {
	name     string
	observer *testObserver
}

func (counter *testCounter) Add(_ context.Context, value int64, _ ...observability.Attribute) {
	counter.observer.mu.Lock()
	defer counter.observer.mu.Unlock()
	counter.observer.counters[counter.name] += value
}

type testHistogram struct {
	name     string
	observer *testObserver
}

func (histogram *testHistogram) Record(context.Context, float64, ...observability.Attribute) {
	histogram.observer.mu.Lock()
	defer histogram.observer.mu.Unlock()
	histogram.observer.records[histogram.name]++
}

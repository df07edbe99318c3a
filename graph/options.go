package graph

import (
	"maps"
	"time"

	"github.com/leofalp/stategraph/providers/observability"
)

// DefaultRecursionLimit bounds the number of super-steps of a run.
const DefaultRecursionLimit = 25

// Option configures a graph at build time.
type Option func(*graphConfig)

// NodeOption configures a single node.
type NodeOption func(*node)

// RunOption configures a single Run, Resume or Stream call.
type RunOption func(*runConfig)

type graphConfig struct {
	name             string
	maxConcurrency   int
	executionTimeout time.Duration
	recursionLimit   int
	interruptBefore  map[string]bool
	interruptAfter   map[string]bool
	observer         observability.Provider
}

func (config graphConfig) clone() graphConfig {
	config.interruptBefore = maps.Clone(config.interruptBefore)
	config.interruptAfter = maps.Clone(config.interruptAfter)
	return config
}

type runConfig struct {
	configurable map[string]any
	timeout      time.Duration
}

// --- Graph options ---

// WithName labels the graph in logs and spans.
func WithName(name string) Option {
	return func(config *graphConfig) {
		config.name = name
	}
}

// WithMaxConcurrency caps how many tasks of one super-step run at the same
// time. Zero means no cap.
func WithMaxConcurrency(maxConcurrency int) Option {
	return func(config *graphConfig) {
		config.maxConcurrency = maxConcurrency
	}
}

// WithExecutionTimeout bounds every Run and Resume call. Zero means no
// timeout. A timed out super-step is discarded like any failed one.
func WithExecutionTimeout(timeout time.Duration) Option {
	return func(config *graphConfig) {
		config.executionTimeout = timeout
	}
}

// WithRecursionLimit sets the maximum number of super-steps a run may
// execute. Runs that reach it fail with ErrRecursionLimit.
func WithRecursionLimit(limit int) Option {
	return func(config *graphConfig) {
		config.recursionLimit = limit
	}
}

// WithInterruptBefore pauses the run before any super-step that schedules
// one of nodes. Resuming runs the super-step.
func WithInterruptBefore(nodes ...string) Option {
	return func(config *graphConfig) {
		for _, id := range nodes {
			config.interruptBefore[id] = true
		}
	}
}

// WithInterruptAfter pauses the run after a super-step in which one of nodes
// completed, as long as there is more work to do.
func WithInterruptAfter(nodes ...string) Option {
	return func(config *graphConfig) {
		for _, id := range nodes {
			config.interruptAfter[id] = true
		}
	}
}

// WithObserver enables tracing, metrics and logging. Without it the
// observer is taken from the context, if any.
func WithObserver(provider observability.Provider) Option {
	return func(config *graphConfig) {
		config.observer = provider
	}
}

// --- Node options ---

// WithNodeTimeout bounds each execution of the node.
func WithNodeTimeout(timeout time.Duration) NodeOption {
	return func(n *node) {
		n.timeout = timeout
	}
}

// WithDestinations declares the nodes a Command returned by this node may
// route to with Goto. End is always allowed.
func WithDestinations(nodes ...string) NodeOption {
	return func(n *node) {
		for _, id := range nodes {
			n.destinations[id] = true
		}
	}
}

// --- Run options ---

// WithConfigurable passes run-wide values to every node through
// RunConfig.Configurable. The values are stored with the checkpoints and
// restored on Resume unless overridden.
func WithConfigurable(values map[string]any) RunOption {
	return func(config *runConfig) {
		config.configurable = values
	}
}

// WithRunTimeout bounds a single call, overriding WithExecutionTimeout.
func WithRunTimeout(timeout time.Duration) RunOption {
	return func(config *runConfig) {
		config.timeout = timeout
	}
}

func applyRunOptions(opts []RunOption) runConfig {
	var config runConfig
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

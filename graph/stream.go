package graph

import (
	"context"
	"errors"
	"iter"

	"github.com/leofalp/stategraph/checkpoint"
)

// EventType identifies a stream event.
type EventType string

const (
	// EventStepCommitted is emitted after a super-step merged and its
	// checkpoint was written. Writes holds the merged outputs in task order.
	EventStepCommitted EventType = "step_committed"

	// EventInterrupted is emitted when the run suspends.
	EventInterrupted EventType = "interrupted"

	// EventDone is the last event of a stream that ended without error.
	EventDone EventType = "done"
)

// Event is one update of a streamed run.
type Event struct {
	Type  EventType `json:"type"`
	RunID string    `json:"run_id"`
	Step  int       `json:"step"`

	// Nodes lists the nodes of the committed super-step.
	Nodes  []string         `json:"nodes,omitempty"`
	Writes []map[string]any `json:"writes,omitempty"`

	Interrupts []checkpoint.Interrupt `json:"interrupts,omitempty"`

	// Result is set on EventDone.
	Result *Result `json:"result,omitempty"`
}

// errConsumerStopped aborts the run loop when the consumer breaks out of the
// range loop. It is never surfaced to callers.
var errConsumerStopped = errors.New("stream consumer stopped iteration")

func (run *runState) send(event Event) error {
	if run.emit == nil {
		return nil
	}
	event.RunID = run.runID
	return run.emit(event)
}

// RunStream is a lazily executed run. Nothing happens until it is iterated.
// Breaking out of the loop stops the run after the current super-step; the
// run can later be continued with Resume.
type RunStream struct {
	iterator iter.Seq2[Event, error]
}

// Iter returns the events of the run. A failure is yielded once as the last
// element.
//
//	for event, err := range g.Stream(ctx, input, runID).Iter() {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(event.Step, event.Nodes)
//	}
func (stream *RunStream) Iter() iter.Seq2[Event, error] {
	return stream.iterator
}

// Collect drains the stream and returns the final result.
func (stream *RunStream) Collect() (*Result, error) {
	var result *Result
	for event, err := range stream.iterator {
		if err != nil {
			return nil, err
		}
		if event.Type == EventDone {
			result = event.Result
		}
	}
	if result == nil {
		return nil, errors.New("stream ended without a result")
	}
	return result, nil
}

// Stream is Run with per-step events.
func (graph *Graph) Stream(ctx context.Context, input State, runID string, opts ...RunOption) *RunStream {
	if runID == "" {
		runID = NewRunID()
	}
	config := applyRunOptions(opts)
	return graph.newStream(func(emit func(Event) error) (*Result, error) {
		return graph.run(ctx, input, runID, config, emit)
	})
}

// StreamResume is Resume with per-step events.
func (graph *Graph) StreamResume(ctx context.Context, runID string, cmd Command, opts ...RunOption) *RunStream {
	config := applyRunOptions(opts)
	return graph.newStream(func(emit func(Event) error) (*Result, error) {
		return graph.resume(ctx, runID, cmd, config, emit)
	})
}

func (graph *Graph) newStream(execute func(emit func(Event) error) (*Result, error)) *RunStream {
	return &RunStream{iterator: func(yield func(Event, error) bool) {
		emit := func(event Event) error {
			if !yield(event, nil) {
				return errConsumerStopped
			}
			return nil
		}

		result, err := execute(emit)
		if errors.Is(err, errConsumerStopped) {
			return
		}
		if err != nil {
			yield(Event{}, err)
			return
		}
		yield(Event{Type: EventDone, RunID: result.RunID, Step: result.Step, Result: result}, nil)
	}}
}

package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime/debug"
	"slices"
	"time"

	"github.com/leofalp/stategraph/checkpoint"
)

// taskOutcome is what a finished task contributes to its super-step.
type taskOutcome struct {
	writes     map[string]any
	gotoNodes  []string
	interrupts []checkpoint.Interrupt
}

func (outcome taskOutcome) interrupted() bool {
	return len(outcome.interrupts) > 0
}

// runTask executes one task against the state of the current checkpoint.
// Interrupts are reported in the outcome; every other failure is a *NodeError.
func (graph *Graph) runTask(ctx context.Context, run *runState, step int, task checkpoint.Task) (outcome taskOutcome, err error) {
	n := graph.nodes[task.Node]
	input := project(run.cp.State, n.inputs, task.Payload)

	fail := func(cause error) error {
		return &NodeError{Node: n.id, TaskID: task.ID, Step: step, Input: input, Err: cause}
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	taskStart := time.Now()
	ctx, span := run.observer.taskStart(ctx, step, task)
	defer func() {
		run.observer.taskEnd(ctx, span, task, outcome, err, time.Since(taskStart))
	}()

	if n.subgraph != nil {
		outcome, err = graph.runSubgraph(ctx, run, n, task, input)
		if err != nil {
			return taskOutcome{}, fail(err)
		}
		return outcome, nil
	}

	config := RunConfig{
		RunID:        run.runID,
		TaskID:       task.ID,
		Node:         n.id,
		Step:         step,
		Configurable: maps.Clone(run.cp.Config),
	}
	output, err := callNode(withScratchpad(ctx, task), n.fn, newView(input), config)
	if err != nil {
		if IsInterrupt(err) {
			return taskOutcome{interrupts: interruptsOf(err)}, nil
		}
		return taskOutcome{}, fail(err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return taskOutcome{}, fail(ctxErr)
	}

	outcome, err = n.validateOutput(output)
	if err != nil {
		return taskOutcome{}, fail(err)
	}
	return outcome, nil
}

// callNode runs fn and turns a panic into an error.
func callNode(ctx context.Context, fn NodeFunc, view View, config RunConfig) (output Output, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v\n%s", recovered, debug.Stack())
		}
	}()
	return fn(ctx, view, config)
}

func interruptsOf(err error) []checkpoint.Interrupt {
	var signal *interruptSignal
	if errors.As(err, &signal) {
		return signal.interrupts
	}
	return nil
}

// validateOutput checks a node's return value against its declared outputs
// and destinations and normalizes the writes.
func (n *node) validateOutput(output Output) (taskOutcome, error) {
	var update Update
	var gotoNodes []string

	switch typed := output.(type) {
	case nil:
	case Update:
		update = typed
	case *Command:
		if typed != nil {
			update = typed.Update
			gotoNodes = slices.Clone(typed.Goto)
		}
	default:
		return taskOutcome{}, fmt.Errorf("%w: unsupported output type %T", ErrValidation, output)
	}

	if err := n.checkWrites(update); err != nil {
		return taskOutcome{}, err
	}
	for _, target := range gotoNodes {
		if target != End && !n.destinations[target] {
			return taskOutcome{}, fmt.Errorf("%w: node %q cannot go to undeclared destination %q", ErrRouting, n.id, target)
		}
	}

	writes, err := checkpoint.NormalizeMap(update)
	if err != nil {
		return taskOutcome{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return taskOutcome{writes: writes, gotoNodes: gotoNodes}, nil
}

func (n *node) checkWrites(update map[string]any) error {
	for _, key := range slices.Sorted(maps.Keys(update)) {
		if !n.outputSet[key] {
			return fmt.Errorf("%w: node %q wrote undeclared key %q", ErrValidation, n.id, key)
		}
	}
	return nil
}

package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/leofalp/stategraph/checkpoint"
)

// childRunID nests a subgraph run under the parent task that runs it.
func childRunID(parentRunID, taskID string) string {
	return parentRunID + "/" + taskID
}

// runSubgraph executes the child graph of n for task. The child persists
// into the parent's store under childRunID, which lets an interrupt raised
// inside it be resumed through the parent.
func (graph *Graph) runSubgraph(ctx context.Context, run *runState, n *node, task checkpoint.Task, input map[string]any) (taskOutcome, error) {
	child := n.subgraph.withStore(graph.store)
	if child.config.observer == nil {
		child.config.observer = run.observer.provider
	}
	runID := childRunID(run.runID, task.ID)
	configurable := WithConfigurable(run.cp.Config)

	latest, err := graph.store.Latest(ctx, runID)
	var result *Result
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		result, err = child.Run(ctx, input, runID, configurable)
	case err != nil:
		return taskOutcome{}, fmt.Errorf("load subgraph checkpoint %q: %w", runID, err)
	case latest.Status == checkpoint.StatusCompleted:
		// The parent super-step is being retried; start the child over.
		if err := graph.store.Delete(ctx, runID); err != nil {
			return taskOutcome{}, fmt.Errorf("discard subgraph run %q: %w", runID, err)
		}
		result, err = child.Run(ctx, input, runID, configurable)
	default:
		result, err = child.Resume(ctx, runID, Command{ResumeByID: task.ResumeByID}, configurable)
	}
	if err != nil {
		return taskOutcome{}, fmt.Errorf("subgraph %q: %w", n.id, err)
	}

	if result.Interrupted() {
		interrupts := make([]checkpoint.Interrupt, len(result.Interrupts))
		for i, interrupt := range result.Interrupts {
			interrupts[i] = checkpoint.Interrupt{
				ID:      nestedInterruptID(task.ID, interrupt.ID),
				TaskID:  task.ID,
				Node:    n.id + "/" + interrupt.Node,
				Kind:    interrupt.Kind,
				Payload: interrupt.Payload,
			}
		}
		return taskOutcome{interrupts: interrupts}, nil
	}

	writes, err := graph.subgraphWrites(ctx, n, runID)
	if err != nil {
		return taskOutcome{}, err
	}
	return taskOutcome{writes: writes}, nil
}

// subgraphWrites folds what the child run wrote to the declared outputs, in
// commit order. Values the child only received as input are never handed
// back, so every channel kind sees each contribution once.
func (graph *Graph) subgraphWrites(ctx context.Context, n *node, runID string) (map[string]any, error) {
	records, err := graph.store.History(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load subgraph history %q: %w", runID, err)
	}
	contributions := make(map[string][]any)
	for _, record := range records {
		for _, update := range record.Writes {
			for _, key := range n.outputs {
				if value, ok := update[key]; ok {
					contributions[key] = append(contributions[key], value)
				}
			}
		}
	}

	writes := make(map[string]any, len(contributions))
	for key, values := range contributions {
		writes[key] = graph.schema[key].fold(values)
	}
	return writes, nil
}

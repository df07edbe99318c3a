package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/leofalp/stategraph/checkpoint"
)

// GetState returns the latest checkpoint of a run. After a failed super-step
// it still shows the last successful one.
func (graph *Graph) GetState(ctx context.Context, runID string) (*Snapshot, error) {
	cp, err := graph.latest(ctx, runID)
	if err != nil {
		return nil, err
	}
	return newSnapshot(cp), nil
}

// History returns every checkpoint of a run, oldest first.
func (graph *Graph) History(ctx context.Context, runID string) ([]*Snapshot, error) {
	records, err := graph.store.History(ctx, runID)
	if err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
		return nil, fmt.Errorf("load history for run %q: %w", runID, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrRunNotFound, runID)
	}
	snapshots := make([]*Snapshot, len(records))
	for i, cp := range records {
		snapshots[i] = newSnapshot(cp)
	}
	return snapshots, nil
}

// Discard deletes every checkpoint of a run, nested subgraph runs included.
func (graph *Graph) Discard(ctx context.Context, runID string) error {
	if err := graph.store.Delete(ctx, runID); err != nil {
		return fmt.Errorf("discard run %q: %w", runID, err)
	}
	return nil
}

// UpdateState patches the state of a suspended or finished run through the
// channels and writes a new checkpoint.
//
// With asOfNode empty the patch may touch any schema key and the pending
// tasks are kept. With asOfNode set the patch must respect that node's
// declared outputs and is treated as the node's own output: its static
// successors and routers decide the new frontier and pending interrupts are
// dropped.
func (graph *Graph) UpdateState(ctx context.Context, runID string, patch Update, asOfNode string) (*Snapshot, error) {
	latest, err := graph.latest(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := graph.schema.checkKeys(patch); err != nil {
		return nil, fmt.Errorf("update state: %w", err)
	}

	var source *node
	if asOfNode != "" {
		source = graph.nodes[asOfNode]
		if source == nil {
			return nil, fmt.Errorf("%w: update state as unknown node %q", ErrValidation, asOfNode)
		}
		if err := source.checkWrites(patch); err != nil {
			return nil, fmt.Errorf("update state: %w", err)
		}
	}

	next := graph.successor(latest)
	if len(patch) > 0 {
		if err := graph.schema.merge(next.State, []map[string]any{patch}); err != nil {
			return nil, fmt.Errorf("update state: %w", err)
		}
		if next.State, err = normalizeState(next.State); err != nil {
			return nil, fmt.Errorf("update state: %w", err)
		}
		next.Writes = []map[string]any{patch}
	}

	if source != nil {
		completed := []checkpoint.Task{{ID: fmt.Sprintf("%s:update:%d", source.id, next.Seq), Node: source.id, Status: checkpoint.TaskSucceeded}}
		tasks, barriers, err := graph.nextFrontier(ctx, latest.Step+1, completed, next.State, latest.Barriers)
		if err != nil {
			return nil, fmt.Errorf("update state: %w", err)
		}
		next.Step = latest.Step + 1
		next.PendingTasks = tasks
		next.Barriers = barriers
		next.Interrupts = nil
	}

	// A patched run waits for Resume, unless there is nothing left to do.
	next.Status = checkpoint.StatusInterrupted
	if len(next.PendingTasks) == 0 {
		next.Status = checkpoint.StatusCompleted
	}

	run := &runState{runID: runID, observer: &runObserver{}}
	if err := graph.put(ctx, run, next); err != nil {
		return nil, err
	}
	return newSnapshot(next), nil
}

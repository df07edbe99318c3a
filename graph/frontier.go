package graph

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/leofalp/stategraph/checkpoint"
)

// frontier accumulates the tasks of the next super-step in discovery order.
type frontier struct {
	graph    *Graph
	entries  []frontierEntry
	planned  map[string]bool
	barriers map[string][]string
}

type frontierEntry struct {
	node         string
	payload      map[string]any
	dispatchedBy string
}

// nextFrontier computes the tasks of super-step step from the tasks that
// completed in the previous one, in task order. Routers see state after the
// merge. barriers is the join bookkeeping carried in the checkpoint; the
// updated copy is returned.
func (graph *Graph) nextFrontier(ctx context.Context, step int, completed []checkpoint.Task, state State, barriers map[string][]string) ([]checkpoint.Task, map[string][]string, error) {
	next := &frontier{
		graph:    graph,
		planned:  make(map[string]bool),
		barriers: make(map[string][]string, len(barriers)),
	}
	for join, arrived := range barriers {
		next.barriers[join] = slices.Clone(arrived)
	}

	view := newView(state)
	routed := make(map[string]bool)
	for _, task := range completed {
		source := graph.source(task.Node)
		if source == nil {
			return nil, nil, fmt.Errorf("%w: completed task %q refers to unknown node %q", ErrCheckpointCorruption, task.ID, task.Node)
		}

		if len(task.Goto) > 0 {
			for _, target := range task.Goto {
				next.add(target)
			}
			continue
		}

		for _, successor := range source.successors {
			if source.id != Start && successor != End && graph.nodes[successor].isJoin() {
				next.arrive(successor, source.id)
				continue
			}
			next.add(successor)
		}

		// Routers run once per source node and super-step, even when the
		// source ran as several fan-out tasks.
		if routed[source.id] {
			continue
		}
		routed[source.id] = true
		for _, r := range source.routers {
			route, err := r.fn(ctx, view)
			if err != nil {
				return nil, nil, fmt.Errorf("router after %q: %w", source.id, err)
			}
			if err := next.route(source.id, task.ID, r, route); err != nil {
				return nil, nil, err
			}
		}
	}

	for _, id := range graph.order {
		if n := graph.nodes[id]; n.isJoin() && next.joinReady(n) {
			delete(next.barriers, id)
			next.add(id)
		}
	}

	tasks := make([]checkpoint.Task, len(next.entries))
	for i, entry := range next.entries {
		tasks[i] = checkpoint.Task{
			ID:           fmt.Sprintf("%s:%d:%d", entry.node, step, i),
			Node:         entry.node,
			Payload:      entry.payload,
			DispatchedBy: entry.dispatchedBy,
			Status:       checkpoint.TaskPending,
		}
	}
	if len(next.barriers) == 0 {
		next.barriers = nil
	}
	return tasks, next.barriers, nil
}

// add schedules node once, ignoring End.
func (next *frontier) add(node string) {
	if node == End || next.planned[node] {
		return
	}
	next.planned[node] = true
	next.entries = append(next.entries, frontierEntry{node: node})
}

func (next *frontier) arrive(join, predecessor string) {
	if !slices.Contains(next.barriers[join], predecessor) {
		next.barriers[join] = append(next.barriers[join], predecessor)
	}
}

func (next *frontier) joinReady(n *node) bool {
	arrived := next.barriers[n.id]
	for _, predecessor := range n.predecessors {
		if !slices.Contains(arrived, predecessor) {
			return false
		}
	}
	return true
}

func (next *frontier) route(source, taskID string, r *router, route Route) error {
	if route == nil {
		return fmt.Errorf("%w: router after %q returned no route", ErrRouting, source)
	}
	for _, target := range route.targets() {
		if target != End && !r.targets[target] {
			return fmt.Errorf("%w: router after %q chose %q, declared targets are %v", ErrRouting, source, target, slices.Sorted(maps.Keys(r.targets)))
		}
	}

	switch typed := route.(type) {
	case GotoOne:
		next.add(typed.Node)
	case GotoMany:
		for _, target := range typed.Nodes {
			next.add(target)
		}
	case FanOut:
		for i, send := range typed.Sends {
			if err := next.dispatch(source, taskID, i, send); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: router after %q returned unsupported route %T", ErrRouting, source, route)
	}
	return nil
}

// dispatch schedules one fan-out branch. Branches are never merged with each
// other or with plain scheduling of the same node.
func (next *frontier) dispatch(source, taskID string, index int, send Send) error {
	if send.Node == End {
		return nil
	}
	target := next.graph.nodes[send.Node]
	for _, key := range slices.Sorted(maps.Keys(send.Payload)) {
		if !target.inputSet[key] {
			return fmt.Errorf("%w: branch %d from %q sends key %q which is not an input of %q", ErrValidation, index, source, key, send.Node)
		}
	}
	payload, err := checkpoint.NormalizeMap(send.Payload)
	if err != nil {
		return fmt.Errorf("%w: branch %d from %q: %w", ErrValidation, index, source, err)
	}
	next.entries = append(next.entries, frontierEntry{node: send.Node, payload: payload, dispatchedBy: taskID})
	return nil
}

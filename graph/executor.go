package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leofalp/stategraph/checkpoint"
)

// runState is the bookkeeping of one Run or Resume call.
type runState struct {
	runID string

	// cp is the latest checkpoint written for the run.
	cp *checkpoint.Checkpoint

	observer *runObserver

	// released holds the tasks of the first super-step after a resume that
	// already went past their interrupt-before check.
	released map[string]bool

	// emit receives stream events. Nil when not streaming.
	emit func(Event) error
}

// Run starts a new run with input as its initial state. An empty runID is
// replaced with a random one. It returns when the run completes, is
// interrupted, or fails; a failure leaves the last checkpoint untouched.
func (graph *Graph) Run(ctx context.Context, input State, runID string, opts ...RunOption) (*Result, error) {
	return graph.run(ctx, input, runID, applyRunOptions(opts), nil)
}

// Resume continues a run from its latest checkpoint. cmd may carry resume
// values for pending interrupts, a state patch and a routing override. Like
// Run, a failure leaves the latest checkpoint untouched.
func (graph *Graph) Resume(ctx context.Context, runID string, cmd Command, opts ...RunOption) (*Result, error) {
	return graph.resume(ctx, runID, cmd, applyRunOptions(opts), nil)
}

func (graph *Graph) run(ctx context.Context, input State, runID string, config runConfig, emit func(Event) error) (result *Result, err error) {
	if runID == "" {
		runID = NewRunID()
	}
	run := &runState{runID: runID, emit: emit}
	ctx, cancel := graph.withTimeout(ctx, config)
	defer cancel()
	ctx, run.observer = graph.observeRunStart(ctx, runID, false)
	defer func() { run.observer.runEnd(ctx, result, err) }()

	if _, err := graph.store.Latest(ctx, runID); err == nil {
		return nil, fmt.Errorf("%w: %q", ErrRunExists, runID)
	} else if !errors.Is(err, checkpoint.ErrNotFound) {
		return nil, fmt.Errorf("load checkpoint for run %q: %w", runID, err)
	}

	if err := graph.schema.checkKeys(input); err != nil {
		return nil, fmt.Errorf("initial state: %w", err)
	}
	state := make(State)
	if len(input) > 0 {
		if err := graph.schema.merge(state, []map[string]any{input}); err != nil {
			return nil, fmt.Errorf("initial state: %w", err)
		}
	}
	if state, err = normalizeState(state); err != nil {
		return nil, fmt.Errorf("initial state: %w", err)
	}

	entry := []checkpoint.Task{{ID: Start, Node: Start, Status: checkpoint.TaskSucceeded}}
	tasks, barriers, err := graph.nextFrontier(ctx, 0, entry, state, nil)
	if err != nil {
		return nil, err
	}

	cp := &checkpoint.Checkpoint{
		RunID:        runID,
		Status:       checkpoint.StatusRunning,
		State:        state,
		PendingTasks: tasks,
		Barriers:     barriers,
		Config:       config.configurable,
	}
	if err := graph.put(ctx, run, cp); err != nil {
		return nil, err
	}
	return graph.loop(ctx, run)
}

func (graph *Graph) resume(ctx context.Context, runID string, cmd Command, config runConfig, emit func(Event) error) (result *Result, err error) {
	run := &runState{runID: runID, emit: emit}
	ctx, cancel := graph.withTimeout(ctx, config)
	defer cancel()
	ctx, run.observer = graph.observeRunStart(ctx, runID, true)
	defer func() { run.observer.runEnd(ctx, result, err) }()

	latest, err := graph.latest(ctx, runID)
	if err != nil {
		return nil, err
	}
	if latest.Status == checkpoint.StatusCompleted {
		return nil, fmt.Errorf("%w: %q", ErrRunCompleted, runID)
	}

	cp, err := checkpoint.Clone(latest)
	if err != nil {
		return nil, err
	}
	cp.Status = checkpoint.StatusRunning
	if config.configurable != nil {
		cp.Config = config.configurable
	}

	if len(cmd.Update) > 0 {
		if err := graph.schema.checkKeys(cmd.Update); err != nil {
			return nil, fmt.Errorf("resume update: %w", err)
		}
		if err := graph.schema.merge(cp.State, []map[string]any{cmd.Update}); err != nil {
			return nil, fmt.Errorf("resume update: %w", err)
		}
		if cp.State, err = normalizeState(cp.State); err != nil {
			return nil, fmt.Errorf("resume update: %w", err)
		}
	}

	if len(cmd.Goto) > 0 {
		// Goto replaces the frontier with the named nodes.
		cp.PendingTasks = make([]checkpoint.Task, len(cmd.Goto))
		for i, target := range cmd.Goto {
			if _, ok := graph.nodes[target]; !ok {
				return nil, fmt.Errorf("%w: resume goto unknown node %q", ErrRouting, target)
			}
			cp.PendingTasks[i] = checkpoint.Task{
				ID:     fmt.Sprintf("%s:%d:%d", target, cp.Step, i),
				Node:   target,
				Status: checkpoint.TaskPending,
			}
		}
		cp.Interrupts = nil
		run.released = make(map[string]bool, len(cp.PendingTasks))
		for _, task := range cp.PendingTasks {
			run.released[task.ID] = true
		}
	} else {
		if run.released, err = resolveResume(cp, cmd); err != nil {
			return nil, err
		}
		cp.Interrupts = nil
	}

	// The prepared checkpoint is only the base of the next commit. Until a
	// super-step succeeds the stored interrupt stays pending and can be
	// answered again.
	run.cp = cp
	return graph.loop(ctx, run)
}

func (graph *Graph) withTimeout(ctx context.Context, config runConfig) (context.Context, context.CancelFunc) {
	timeout := graph.config.executionTimeout
	if config.timeout > 0 {
		timeout = config.timeout
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// loop drives super-steps until the frontier is empty, the run is
// interrupted, or a super-step fails.
func (graph *Graph) loop(ctx context.Context, run *runState) (*Result, error) {
	for {
		cp := run.cp
		if len(cp.PendingTasks) == 0 {
			if cp.Status != checkpoint.StatusCompleted {
				next := graph.successor(cp)
				next.Status = checkpoint.StatusCompleted
				if err := graph.put(ctx, run, next); err != nil {
					return nil, err
				}
			}
			return graph.result(run.cp), nil
		}

		if cp.Step >= graph.config.recursionLimit {
			return nil, fmt.Errorf("%w: run %q executed %d super-steps", ErrRecursionLimit, run.runID, cp.Step)
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run %q: %w", run.runID, err)
		}

		if interrupts := graph.interruptsBefore(cp, run.released); len(interrupts) > 0 {
			next := graph.successor(cp)
			next.Status = checkpoint.StatusInterrupted
			next.Interrupts = interrupts
			if err := graph.put(ctx, run, next); err != nil {
				return nil, err
			}
			return graph.interrupted(run)
		}
		run.released = nil

		outcomes, err := graph.superstep(ctx, run)
		if err != nil {
			return nil, err
		}

		next, event, err := graph.commit(ctx, run, outcomes)
		if err != nil {
			return nil, err
		}
		if err := graph.put(ctx, run, next); err != nil {
			return nil, err
		}
		if event != nil {
			if err := run.send(*event); err != nil {
				return nil, err
			}
		}
		if next.Status == checkpoint.StatusInterrupted {
			return graph.interrupted(run)
		}
	}
}

func (graph *Graph) interrupted(run *runState) (*Result, error) {
	cp := run.cp
	if err := run.send(Event{Type: EventInterrupted, Step: cp.Step, Interrupts: cp.Interrupts}); err != nil {
		return nil, err
	}
	return graph.result(cp), nil
}

// superstep runs every task of the current checkpoint that has not already
// succeeded. The first failure cancels the others and discards the step.
func (graph *Graph) superstep(ctx context.Context, run *runState) ([]taskOutcome, error) {
	cp := run.cp
	ctx, span := run.observer.stepStart(ctx, cp)

	outcomes := make([]taskOutcome, len(cp.PendingTasks))
	group, groupCtx := errgroup.WithContext(ctx)
	if graph.config.maxConcurrency > 0 {
		group.SetLimit(graph.config.maxConcurrency)
	}
	for i, task := range cp.PendingTasks {
		if task.Status == checkpoint.TaskSucceeded {
			outcomes[i] = taskOutcome{writes: task.Writes, gotoNodes: task.Goto}
			continue
		}
		group.Go(func() error {
			outcome, err := graph.runTask(groupCtx, run, cp.Step, task)
			if err != nil {
				return err
			}
			outcomes[i] = outcome
			return nil
		})
	}

	err := group.Wait()
	run.observer.stepEnd(ctx, span, err)
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

// commit turns the outcomes of a super-step into the next checkpoint. If any
// task interrupted, nothing is merged: the checkpoint keeps the same step and
// records the outputs of the finished siblings so they are not run again.
func (graph *Graph) commit(ctx context.Context, run *runState, outcomes []taskOutcome) (*checkpoint.Checkpoint, *Event, error) {
	cp := run.cp
	next := graph.successor(cp)

	var interrupts []checkpoint.Interrupt
	for _, outcome := range outcomes {
		interrupts = append(interrupts, outcome.interrupts...)
	}
	if len(interrupts) > 0 {
		for i, outcome := range outcomes {
			task := &next.PendingTasks[i]
			if outcome.interrupted() {
				task.Status = checkpoint.TaskInterrupted
				continue
			}
			task.Status = checkpoint.TaskSucceeded
			task.Writes = outcome.writes
			task.Goto = outcome.gotoNodes
		}
		next.Status = checkpoint.StatusInterrupted
		next.Interrupts = interrupts
		return next, nil, nil
	}

	writes := make([]map[string]any, 0, len(outcomes))
	completed := make([]checkpoint.Task, len(outcomes))
	for i, outcome := range outcomes {
		if len(outcome.writes) > 0 {
			writes = append(writes, outcome.writes)
		}
		completed[i] = cp.PendingTasks[i]
		completed[i].Goto = outcome.gotoNodes
	}

	state := copyState(cp.State)
	if err := graph.schema.merge(state, writes); err != nil {
		return nil, nil, fmt.Errorf("step %d: %w", cp.Step, err)
	}
	state, err := normalizeState(state)
	if err != nil {
		return nil, nil, fmt.Errorf("step %d: %w", cp.Step, err)
	}

	tasks, barriers, err := graph.nextFrontier(ctx, cp.Step+1, completed, state, cp.Barriers)
	if err != nil {
		return nil, nil, fmt.Errorf("step %d: %w", cp.Step, err)
	}

	next.Step = cp.Step + 1
	next.State = state
	next.PendingTasks = tasks
	next.Barriers = barriers
	next.Interrupts = nil
	next.Writes = writes
	next.Status = checkpoint.StatusRunning
	if len(tasks) == 0 {
		next.Status = checkpoint.StatusCompleted
	} else if after := graph.interruptsAfter(completed, next.Step); len(after) > 0 {
		next.Status = checkpoint.StatusInterrupted
		next.Interrupts = after
	}

	run.observer.stepCommitted(ctx, cp, len(writes))
	return next, &Event{Type: EventStepCommitted, Step: next.Step, Nodes: nodesOf(cp.PendingTasks), Writes: writes}, nil
}

func (graph *Graph) interruptsBefore(cp *checkpoint.Checkpoint, released map[string]bool) []checkpoint.Interrupt {
	var interrupts []checkpoint.Interrupt
	for _, task := range cp.PendingTasks {
		if task.Status != checkpoint.TaskSucceeded && !released[task.ID] && graph.config.interruptBefore[task.Node] {
			interrupts = append(interrupts, checkpoint.Interrupt{
				ID:     "before:" + task.ID,
				TaskID: task.ID,
				Node:   task.Node,
				Kind:   checkpoint.InterruptBefore,
			})
		}
	}
	return interrupts
}

func (graph *Graph) interruptsAfter(completed []checkpoint.Task, step int) []checkpoint.Interrupt {
	var interrupts []checkpoint.Interrupt
	seen := make(map[string]bool)
	for _, task := range completed {
		if graph.config.interruptAfter[task.Node] && !seen[task.Node] {
			seen[task.Node] = true
			interrupts = append(interrupts, checkpoint.Interrupt{
				ID:   fmt.Sprintf("after:%s:%d", task.Node, step),
				Node: task.Node,
				Kind: checkpoint.InterruptAfter,
			})
		}
	}
	return interrupts
}

// successor copies cp as the starting point of the next record.
func (graph *Graph) successor(cp *checkpoint.Checkpoint) *checkpoint.Checkpoint {
	return &checkpoint.Checkpoint{
		RunID:        cp.RunID,
		Seq:          cp.Seq + 1,
		Step:         cp.Step,
		Status:       cp.Status,
		State:        copyState(cp.State),
		PendingTasks: slices.Clone(cp.PendingTasks),
		Interrupts:   slices.Clone(cp.Interrupts),
		Barriers:     maps.Clone(cp.Barriers),
		Config:       cp.Config,
	}
}

func (graph *Graph) put(ctx context.Context, run *runState, cp *checkpoint.Checkpoint) error {
	cp.CreatedAt = time.Now().UTC()
	if err := graph.store.Put(ctx, cp); err != nil {
		return fmt.Errorf("write checkpoint %d for run %q: %w", cp.Seq, cp.RunID, err)
	}
	run.cp = cp
	run.observer.checkpointWritten(ctx, cp)
	return nil
}

func (graph *Graph) latest(ctx context.Context, runID string) (*checkpoint.Checkpoint, error) {
	cp, err := graph.store.Latest(ctx, runID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint for run %q: %w", runID, err)
	}
	return cp, nil
}

func (graph *Graph) result(cp *checkpoint.Checkpoint) *Result {
	return &Result{
		RunID:      cp.RunID,
		Status:     RunStatus(cp.Status),
		Step:       cp.Step,
		State:      copyState(cp.State),
		Interrupts: slices.Clone(cp.Interrupts),
	}
}

func nodesOf(tasks []checkpoint.Task) []string {
	nodes := make([]string, 0, len(tasks))
	for _, task := range tasks {
		if !slices.Contains(nodes, task.Node) {
			nodes = append(nodes, task.Node)
		}
	}
	return nodes
}

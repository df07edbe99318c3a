package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/leofalp/stategraph/checkpoint"
)

type scratchpadKey struct{}

// scratchpad carries the resume values of the task a node is executing.
type scratchpad struct {
	taskID string
	node   string

	mu      sync.Mutex
	resume  []any
	counter int
}

func withScratchpad(ctx context.Context, task checkpoint.Task) context.Context {
	return context.WithValue(ctx, scratchpadKey{}, &scratchpad{
		taskID: task.ID,
		node:   task.Node,
		resume: task.Resume,
	})
}

// Interrupt suspends the run and hands payload to the caller.
//
// The first time a node reaches its n-th Interrupt call, Interrupt returns an
// error that the node must return unchanged. The run stops after the current
// super-step and Run or Resume reports RunInterrupted with the payload. When
// the caller resumes with a value, the node is executed again from the start
// and its n-th Interrupt call returns that value instead. Work done before
// the call is therefore repeated and should be idempotent.
//
//	answer, err := graph.Interrupt(ctx, map[string]any{"candidates": candidates})
//	if err != nil {
//	    return nil, err
//	}
func Interrupt(ctx context.Context, payload any) (any, error) {
	pad, ok := ctx.Value(scratchpadKey{}).(*scratchpad)
	if !ok {
		return nil, fmt.Errorf("%w: Interrupt called outside of a running node", ErrValidation)
	}

	pad.mu.Lock()
	defer pad.mu.Unlock()

	index := pad.counter
	pad.counter++
	if index < len(pad.resume) {
		return pad.resume[index], nil
	}

	normalized, err := checkpoint.Normalize(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: interrupt payload: %w", ErrValidation, err)
	}
	return nil, &interruptSignal{interrupts: []checkpoint.Interrupt{{
		ID:      fmt.Sprintf("%s#%d", pad.taskID, index),
		TaskID:  pad.taskID,
		Node:    pad.node,
		Kind:    checkpoint.InterruptDynamic,
		Payload: normalized,
	}}}
}

// interruptSignal travels as an error from Interrupt to the task runner.
type interruptSignal struct {
	interrupts []checkpoint.Interrupt
}

func (signal *interruptSignal) Error() string {
	ids := make([]string, len(signal.interrupts))
	for i, interrupt := range signal.interrupts {
		ids[i] = interrupt.ID
	}
	return "graph interrupted: " + strings.Join(ids, ", ")
}

// IsInterrupt reports whether err is the suspension signal from Interrupt.
// Nodes that wrap errors must let it through.
func IsInterrupt(err error) bool {
	var signal *interruptSignal
	return errors.As(err, &signal)
}

// nestedInterruptID qualifies an interrupt raised inside a subgraph with the
// id of the parent task running it.
func nestedInterruptID(taskID, childID string) string {
	return taskID + "/" + childID
}

// resolveResume attaches resume values from cmd to the interrupted tasks of
// cp. It returns the tasks that must not pause before running again: those
// released from an interrupt-before pause and those that already started.
func resolveResume(cp *checkpoint.Checkpoint, cmd Command) (map[string]bool, error) {
	var dynamic []checkpoint.Interrupt
	released := make(map[string]bool)
	for _, interrupt := range cp.Interrupts {
		switch interrupt.Kind {
		case checkpoint.InterruptDynamic:
			dynamic = append(dynamic, interrupt)
		case checkpoint.InterruptBefore:
			released[interrupt.TaskID] = true
		}
	}

	if cmd.ResumeByID == nil && cmd.Resume != nil && len(dynamic) > 1 {
		return nil, fmt.Errorf("%w: %d interrupts are pending, resume them by id", ErrValidation, len(dynamic))
	}
	for id := range cmd.ResumeByID {
		if !hasInterrupt(dynamic, id) {
			return nil, fmt.Errorf("%w: no pending interrupt with id %q", ErrValidation, id)
		}
	}

	for _, interrupt := range dynamic {
		value, ok := cmd.ResumeByID[interrupt.ID]
		if !ok && cmd.ResumeByID == nil && cmd.Resume != nil {
			value, ok = cmd.Resume, true
		}
		if !ok {
			continue
		}
		normalized, err := checkpoint.Normalize(value)
		if err != nil {
			return nil, fmt.Errorf("%w: resume value for %q: %w", ErrValidation, interrupt.ID, err)
		}

		task := findTask(cp.PendingTasks, interrupt.TaskID)
		if task == nil {
			return nil, fmt.Errorf("%w: interrupt %q refers to unknown task %q", ErrCheckpointCorruption, interrupt.ID, interrupt.TaskID)
		}
		if childID, nested := strings.CutPrefix(interrupt.ID, task.ID+"/"); nested {
			if task.ResumeByID == nil {
				task.ResumeByID = make(map[string]any)
			}
			task.ResumeByID[childID] = normalized
			continue
		}
		task.Resume = append(task.Resume, normalized)
	}

	for i := range cp.PendingTasks {
		if cp.PendingTasks[i].Status == checkpoint.TaskInterrupted {
			cp.PendingTasks[i].Status = checkpoint.TaskPending
			released[cp.PendingTasks[i].ID] = true
		}
	}
	return released, nil
}

func hasInterrupt(interrupts []checkpoint.Interrupt, id string) bool {
	for _, interrupt := range interrupts {
		if interrupt.ID == id {
			return true
		}
	}
	return false
}

func findTask(tasks []checkpoint.Task, id string) *checkpoint.Task {
	for i := range tasks {
		if tasks[i].ID == id {
			return &tasks[i]
		}
	}
	return nil
}

package graph

import (
	"errors"
	"fmt"

	"github.com/leofalp/stategraph/checkpoint"
)

var (
	// ErrValidation reports a write outside a node's declared outputs, an
	// unknown state key, an invalid fan-out payload, or two writers of an
	// overwrite key in the same super-step.
	ErrValidation = errors.New("validation error")

	// ErrRouting reports a router or Command target that was not declared.
	ErrRouting = errors.New("routing error")

	// ErrTransient marks a recoverable failure of an external call. Nodes are
	// expected to retry these themselves; the engine never does and treats an
	// escaped transient error as fatal.
	ErrTransient = errors.New("transient error")

	// ErrCheckpointCorruption is returned when a persisted checkpoint cannot
	// be decoded. It requires operator intervention.
	ErrCheckpointCorruption = checkpoint.ErrCorrupted

	ErrRecursionLimit = errors.New("recursion limit reached")
	ErrRunNotFound    = errors.New("run not found")
	ErrRunExists      = errors.New("run already exists")
	ErrRunCompleted   = errors.New("run already completed")
)

// Transient wraps err so that errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// NodeError is returned when a task fails. The super-step it belonged to is
// discarded and no checkpoint is written for it, so the run can be resumed
// from the last successful checkpoint once the cause is fixed.
type NodeError struct {
	Node   string
	TaskID string
	Step   int

	// Input is the projected view the node was invoked with.
	Input map[string]any

	Err error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q (task %s, step %d): %v", e.Node, e.TaskID, e.Step, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

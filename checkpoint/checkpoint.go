package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// FormatVersion is the record layout written by Encode. Decode rejects any
// other version rather than guessing.
const FormatVersion = 1

var (
	// ErrNotFound is returned when a run has no checkpoint in the store.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrCorrupted is returned when a persisted record cannot be decoded.
	// It is never repaired automatically.
	ErrCorrupted = errors.New("checkpoint corrupted")

	// ErrConflict is returned when a record with the same run and sequence
	// number already exists. Records are immutable.
	ErrConflict = errors.New("checkpoint already exists")
)

// Status is the lifecycle status of a run as of a checkpoint.
type Status string

const (
	// StatusRunning means the run has more super-steps to execute.
	StatusRunning Status = "running"

	// StatusInterrupted means the run is suspended and waits for a resume.
	StatusInterrupted Status = "interrupted"

	// StatusCompleted means the frontier is empty and the run has finished.
	StatusCompleted Status = "completed"
)

// TaskStatus tracks one scheduled invocation inside a super-step.
type TaskStatus string

const (
	TaskPending     TaskStatus = "pending"
	TaskRunning     TaskStatus = "running"
	TaskSucceeded   TaskStatus = "succeeded"
	TaskFailed      TaskStatus = "failed"
	TaskInterrupted TaskStatus = "interrupted"
)

// InterruptKind tells how an interrupt was raised.
type InterruptKind string

const (
	// InterruptDynamic is raised by a node calling the interrupt primitive.
	InterruptDynamic InterruptKind = "dynamic"

	// InterruptBefore is a static pause before a configured node runs.
	InterruptBefore InterruptKind = "before"

	// InterruptAfter is a static pause after a configured node committed.
	InterruptAfter InterruptKind = "after"
)

// Task is a frontier entry. Only pending, succeeded and interrupted tasks are
// ever persisted; a succeeded task carries the writes it produced so that its
// siblings can be resumed without running it again.
type Task struct {
	ID           string         `json:"id"`
	Node         string         `json:"node"`
	Payload      map[string]any `json:"payload,omitempty"`
	DispatchedBy string         `json:"dispatched_by,omitempty"`
	Status       TaskStatus     `json:"status"`

	// Writes and Goto hold the output of a task that succeeded inside a
	// super-step that was later interrupted.
	Writes map[string]any `json:"writes,omitempty"`
	Goto   []string       `json:"goto,omitempty"`

	// Resume lists the values returned, in call order, by the interrupt
	// primitive when the task is re-executed.
	Resume []any `json:"resume,omitempty"`

	// ResumeByID maps nested interrupt ids to resume values for tasks that
	// run a subgraph.
	ResumeByID map[string]any `json:"resume_by_id,omitempty"`
}

// Interrupt is a live suspension request surfaced to the caller.
type Interrupt struct {
	ID      string        `json:"id"`
	TaskID  string        `json:"task_id,omitempty"`
	Node    string        `json:"node"`
	Kind    InterruptKind `json:"kind"`
	Payload any           `json:"payload,omitempty"`
}

// Checkpoint is the persisted snapshot of a run after a super-step.
type Checkpoint struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`

	// Seq orders the records of a run. Step counts committed super-steps and
	// stays the same across records written for an interrupted super-step.
	Seq  int `json:"seq"`
	Step int `json:"step"`

	Status       Status         `json:"status"`
	State        map[string]any `json:"state"`
	PendingTasks []Task         `json:"pending_tasks"`
	Interrupts   []Interrupt    `json:"interrupts"`

	// Writes holds the outputs merged by the super-step (or state patch) that
	// produced this record, in task order. Interrupt records carry none.
	Writes []map[string]any `json:"writes,omitempty"`

	// Barriers records, per join node, the predecessors that have already
	// produced output since the join last fired.
	Barriers map[string][]string `json:"barriers,omitempty"`

	// Config is the caller-supplied run configuration.
	Config map[string]any `json:"config,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Next returns the node ids of the tasks that still have to run.
func (checkpoint *Checkpoint) Next() []string {
	next := make([]string, 0, len(checkpoint.PendingTasks))
	for _, task := range checkpoint.PendingTasks {
		if task.Status != TaskSucceeded {
			next = append(next, task.Node)
		}
	}
	return next
}

// Encode serializes a checkpoint. A zero Version is stamped with FormatVersion.
func Encode(checkpoint *Checkpoint) ([]byte, error) {
	if checkpoint == nil {
		return nil, fmt.Errorf("checkpoint must not be nil")
	}
	if checkpoint.Version == 0 {
		checkpoint.Version = FormatVersion
	}

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint for run %q: %w", checkpoint.RunID, err)
	}
	return data, nil
}

// Decode parses a record produced by Encode. Any failure wraps ErrCorrupted.
func Decode(data []byte) (*Checkpoint, error) {
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if checkpoint.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupted, checkpoint.Version)
	}
	if checkpoint.RunID == "" {
		return nil, fmt.Errorf("%w: missing run id", ErrCorrupted)
	}
	if checkpoint.State == nil {
		checkpoint.State = make(map[string]any)
	}
	return &checkpoint, nil
}

// Clone returns a deep copy by going through the wire format.
func Clone(checkpoint *Checkpoint) (*Checkpoint, error) {
	data, err := Encode(checkpoint)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Normalize converts a value to the shape it has after a checkpoint round
// trip: maps become map[string]any, slices []any and numbers float64.
func Normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("value of type %T is not serializable: %w", value, err)
	}
	var normalized any
	if err := json.Unmarshal(data, &normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

// NormalizeMap applies Normalize to every value of a map.
func NormalizeMap(values map[string]any) (map[string]any, error) {
	if values == nil {
		return nil, nil
	}
	normalized := make(map[string]any, len(values))
	for key, value := range values {
		converted, err := Normalize(value)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		normalized[key] = converted
	}
	return normalized, nil
}

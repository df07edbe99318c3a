package graph

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/leofalp/stategraph/checkpoint"
)

// NodeFunc is the unit of work of a node. state holds only the node's
// declared inputs, plus the branch payload for fan-out tasks. The returned
// Output may only write declared outputs.
//
// A node may be executed more than once for the same task: after a failed
// super-step is resumed, or when it called Interrupt and the run is resumed.
type NodeFunc func(ctx context.Context, state View, config RunConfig) (Output, error)

// Output is what a node returns: an Update or a *Command.
type Output interface {
	isOutput()
}

// Update is a partial state write.
type Update map[string]any

func (Update) isOutput() {}

// Command is returned by nodes to combine a write with a routing override,
// and passed by callers to Resume.
type Command struct {
	// Update is merged through the channels. From a node it counts as the
	// node's output; on Resume it patches the state before continuing.
	Update Update

	// Goto replaces the routing decision. From a node it overrides the
	// node's static and conditional edges and every target must be declared
	// with WithDestinations. On Resume it replaces the pending tasks.
	Goto []string

	// Resume is the value returned by the pending Interrupt call.
	Resume any

	// ResumeByID resumes several pending interrupts at once, keyed by
	// interrupt id. It takes precedence over Resume.
	ResumeByID map[string]any
}

func (*Command) isOutput() {}

// RunConfig describes the task a node is executing.
type RunConfig struct {
	RunID  string
	TaskID string
	Node   string
	Step   int

	// Configurable carries the values passed with WithConfigurable.
	Configurable map[string]any
}

// RunStatus is the status of a run after a call returned.
type RunStatus string

const (
	RunRunning     RunStatus = RunStatus(checkpoint.StatusRunning)
	RunInterrupted RunStatus = RunStatus(checkpoint.StatusInterrupted)
	RunCompleted   RunStatus = RunStatus(checkpoint.StatusCompleted)
)

// Result is returned by Run and Resume.
type Result struct {
	RunID  string
	Status RunStatus
	Step   int
	State  State

	// Interrupts is set when Status is RunInterrupted.
	Interrupts []checkpoint.Interrupt
}

// Interrupted reports whether the run is suspended waiting for a resume.
func (result *Result) Interrupted() bool {
	return result != nil && result.Status == RunInterrupted
}

// Snapshot is the view of a run as of its latest checkpoint.
type Snapshot struct {
	RunID      string
	Seq        int
	Step       int
	Status     RunStatus
	State      State
	Next       []string
	Tasks      []checkpoint.Task
	Interrupts []checkpoint.Interrupt
	Config     map[string]any
	CreatedAt  time.Time
}

func newSnapshot(cp *checkpoint.Checkpoint) *Snapshot {
	return &Snapshot{
		RunID:      cp.RunID,
		Seq:        cp.Seq,
		Step:       cp.Step,
		Status:     RunStatus(cp.Status),
		State:      copyState(cp.State),
		Next:       cp.Next(),
		Tasks:      slices.Clone(cp.PendingTasks),
		Interrupts: slices.Clone(cp.Interrupts),
		Config:     cp.Config,
		CreatedAt:  cp.CreatedAt,
	}
}

// NewRunID returns a fresh random run id.
func NewRunID() string {
	return uuid.NewString()
}

type node struct {
	id       string
	fn       NodeFunc
	subgraph *Graph

	inputs    []string
	outputs   []string
	inputSet  map[string]bool
	outputSet map[string]bool

	timeout      time.Duration
	destinations map[string]bool

	// successors are the static edge targets, predecessors the static edge
	// sources other than Start.
	successors   []string
	predecessors []string
	routers      []*router
}

func (n *node) isJoin() bool {
	return len(n.predecessors) >= 2
}

type router struct {
	fn      RouterFunc
	targets map[string]bool
}

// Graph is a compiled, immutable workflow. It is safe for concurrent use by
// multiple runs with distinct run ids.
type Graph struct {
	schema Schema
	config graphConfig
	store  checkpoint.Store

	start *node
	nodes map[string]*node
	order []string
}

// Name returns the name set with WithName.
func (graph *Graph) Name() string {
	return graph.config.name
}

// Nodes returns the registered node ids in registration order.
func (graph *Graph) Nodes() []string {
	return slices.Clone(graph.order)
}

// Schema returns a copy of the graph's state schema.
func (graph *Graph) Schema() Schema {
	copied := make(Schema, len(graph.schema))
	for key, channel := range graph.schema {
		copied[key] = channel
	}
	return copied
}

// Store returns the checkpoint store the graph was compiled with.
func (graph *Graph) Store() checkpoint.Store {
	return graph.store
}

func (graph *Graph) source(id string) *node {
	if id == Start {
		return graph.start
	}
	return graph.nodes[id]
}

// withStore returns a shallow copy persisting into store. Subgraphs run with
// their parent's store so their checkpoints nest under the parent run.
func (graph *Graph) withStore(store checkpoint.Store) *Graph {
	copied := *graph
	copied.store = store
	return &copied
}

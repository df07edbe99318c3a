package graph

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/leofalp/stategraph/checkpoint"
)

// Builder assembles a Graph. Problems found while adding nodes and edges are
// collected and reported together by Compile.
//
// Example:
//
//	schema := graph.Schema{
//	    "items":   graph.Overwrite(),
//	    "results": graph.Append(),
//	}
//	g, err := graph.NewBuilder(schema).
//	    AddNode("lookup", lookup, []string{"item"}, []string{"results"}).
//	    AddConditionalEdge(graph.Start, fanOutItems, []string{"lookup"}).
//	    AddEdge("lookup", graph.End).
//	    Compile(checkpoint.NewMemoryStore())
type Builder struct {
	schema  Schema
	config  graphConfig
	nodes   map[string]*node
	order   []string
	edges   []edgeSpec
	routers []routerSpec
	errs    []error
}

type edgeSpec struct {
	from, to string
}

type routerSpec struct {
	from    string
	fn      RouterFunc
	targets []string
}

// NewBuilder starts a graph over schema.
func NewBuilder(schema Schema, opts ...Option) *Builder {
	config := graphConfig{
		recursionLimit:  DefaultRecursionLimit,
		interruptBefore: make(map[string]bool),
		interruptAfter:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(&config)
	}

	return &Builder{
		schema: maps.Clone(schema),
		config: config,
		nodes:  make(map[string]*node),
	}
}

// AddNode registers fn under id. inputs are the state keys the node can
// read, outputs the keys it may write.
func (builder *Builder) AddNode(id string, fn NodeFunc, inputs, outputs []string, opts ...NodeOption) *Builder {
	if fn == nil {
		builder.errs = append(builder.errs, fmt.Errorf("node %q: function must not be nil", id))
		return builder
	}
	builder.addNode(&node{id: id, fn: fn}, inputs, outputs, opts)
	return builder
}

// AddSubgraph embeds a compiled graph as a node. Its declared inputs are
// projected into the child run and its declared outputs are merged back
// through this graph's channels, so every key must exist in both schemas.
func (builder *Builder) AddSubgraph(id string, subgraph *Graph, inputs, outputs []string, opts ...NodeOption) *Builder {
	if subgraph == nil {
		builder.errs = append(builder.errs, fmt.Errorf("subgraph %q: graph must not be nil", id))
		return builder
	}
	for _, key := range append(slices.Clone(inputs), outputs...) {
		if _, ok := subgraph.schema[key]; !ok {
			builder.errs = append(builder.errs, fmt.Errorf("subgraph %q: key %q is not in the subgraph schema", id, key))
		}
	}
	builder.addNode(&node{id: id, subgraph: subgraph}, inputs, outputs, opts)
	return builder
}

func (builder *Builder) addNode(n *node, inputs, outputs []string, opts []NodeOption) {
	switch {
	case n.id == "":
		builder.errs = append(builder.errs, errors.New("node id must not be empty"))
		return
	case n.id == Start || n.id == End:
		builder.errs = append(builder.errs, fmt.Errorf("node id %q is reserved", n.id))
		return
	}
	if _, exists := builder.nodes[n.id]; exists {
		builder.errs = append(builder.errs, fmt.Errorf("duplicate node id %q", n.id))
		return
	}

	n.inputs = slices.Clone(inputs)
	n.outputs = slices.Clone(outputs)
	n.inputSet = toSet(inputs)
	n.outputSet = toSet(outputs)
	n.destinations = make(map[string]bool)
	for _, opt := range opts {
		opt(n)
	}

	for _, key := range append(slices.Clone(inputs), outputs...) {
		if _, ok := builder.schema[key]; !ok {
			builder.errs = append(builder.errs, fmt.Errorf("node %q: key %q is not in the schema", n.id, key))
		}
	}

	builder.nodes[n.id] = n
	builder.order = append(builder.order, n.id)
}

// AddEdge adds a static edge. A node with two or more static predecessors
// (Start excluded) is a join and only runs once all of them have completed.
func (builder *Builder) AddEdge(from, to string) *Builder {
	builder.edges = append(builder.edges, edgeSpec{from: from, to: to})
	return builder
}

// AddConditionalEdge evaluates fn after from completes. The returned Route
// may only name nodes listed in possibleTargets, or End.
func (builder *Builder) AddConditionalEdge(from string, fn RouterFunc, possibleTargets []string) *Builder {
	if fn == nil {
		builder.errs = append(builder.errs, fmt.Errorf("conditional edge from %q: router must not be nil", from))
		return builder
	}
	builder.routers = append(builder.routers, routerSpec{from: from, fn: fn, targets: slices.Clone(possibleTargets)})
	return builder
}

// Compile validates the graph and binds it to store. A nil store selects an
// in-memory store. Cycles are allowed; runs are bounded by the recursion
// limit instead.
func (builder *Builder) Compile(store checkpoint.Store) (*Graph, error) {
	errs := slices.Clone(builder.errs)
	if err := builder.schema.validate(); err != nil {
		errs = append(errs, err)
	}
	if builder.config.recursionLimit <= 0 {
		errs = append(errs, fmt.Errorf("recursion limit must be positive, got %d", builder.config.recursionLimit))
	}

	// The compiled graph owns copies of the nodes, so adding to the builder
	// or compiling it again never changes a graph returned earlier.
	nodes := make(map[string]*node, len(builder.nodes))
	for id, n := range builder.nodes {
		copied := *n
		copied.successors, copied.predecessors, copied.routers = nil, nil, nil
		nodes[id] = &copied
	}
	start := &node{id: Start}
	source := func(id string) *node {
		if id == Start {
			return start
		}
		return nodes[id]
	}
	validTarget := func(id string) bool {
		_, ok := nodes[id]
		return ok || id == End
	}

	for _, edge := range builder.edges {
		from := source(edge.from)
		switch {
		case from == nil:
			errs = append(errs, fmt.Errorf("edge %s -> %s: unknown source %q", edge.from, edge.to, edge.from))
			continue
		case !validTarget(edge.to):
			errs = append(errs, fmt.Errorf("edge %s -> %s: unknown target %q", edge.from, edge.to, edge.to))
			continue
		case slices.Contains(from.successors, edge.to):
			continue
		}
		from.successors = append(from.successors, edge.to)
		if edge.from != Start && edge.to != End {
			target := nodes[edge.to]
			target.predecessors = append(target.predecessors, edge.from)
		}
	}

	for _, spec := range builder.routers {
		from := source(spec.from)
		if from == nil {
			errs = append(errs, fmt.Errorf("conditional edge from %q: unknown source", spec.from))
			continue
		}
		if len(spec.targets) == 0 {
			errs = append(errs, fmt.Errorf("conditional edge from %q: no possible targets", spec.from))
			continue
		}
		for _, target := range spec.targets {
			if !validTarget(target) {
				errs = append(errs, fmt.Errorf("conditional edge from %q: unknown target %q", spec.from, target))
			}
		}
		from.routers = append(from.routers, &router{fn: spec.fn, targets: toSet(spec.targets)})
	}

	if len(start.successors) == 0 && len(start.routers) == 0 {
		errs = append(errs, fmt.Errorf("graph has no entry: add an edge from %s", Start))
	}

	for _, id := range builder.order {
		for _, target := range slices.Sorted(maps.Keys(nodes[id].destinations)) {
			if !validTarget(target) {
				errs = append(errs, fmt.Errorf("node %q: unknown destination %q", id, target))
			}
		}
	}
	for _, id := range slices.Sorted(maps.Keys(builder.config.interruptBefore)) {
		if _, ok := nodes[id]; !ok {
			errs = append(errs, fmt.Errorf("interrupt before unknown node %q", id))
		}
	}
	for _, id := range slices.Sorted(maps.Keys(builder.config.interruptAfter)) {
		if _, ok := nodes[id]; !ok {
			errs = append(errs, fmt.Errorf("interrupt after unknown node %q", id))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: invalid graph: %w", ErrValidation, errors.Join(errs...))
	}

	if store == nil {
		store = checkpoint.NewMemoryStore()
	}

	return &Graph{
		schema: maps.Clone(builder.schema),
		config: builder.config.clone(),
		store:  store,
		start:  start,
		nodes:  nodes,
		order:  slices.Clone(builder.order),
	}, nil
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, value := range values {
		set[value] = true
	}
	return set
}

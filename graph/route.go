package graph

import "context"

const (
	// Start is the virtual source of entry edges.
	Start = "__start__"

	// End is the virtual sink. Routing to End schedules nothing.
	End = "__end__"
)

// Route is the decision of a conditional router. It is one of GotoOne,
// GotoMany or FanOut.
type Route interface {
	targets() []string
}

// GotoOne schedules a single successor.
type GotoOne struct {
	Node string
}

// GotoMany schedules several successors in the next super-step.
type GotoMany struct {
	Nodes []string
}

// FanOut schedules one task per Send, each with its own payload.
type FanOut struct {
	Sends []Send
}

// Send is one fan-out branch: a target node and the extra input only that
// branch sees. Payload keys must be declared inputs of the target.
type Send struct {
	Node    string
	Payload map[string]any
}

func (route GotoOne) targets() []string { return []string{route.Node} }

func (route GotoMany) targets() []string { return route.Nodes }

func (route FanOut) targets() []string {
	nodes := make([]string, len(route.Sends))
	for i, send := range route.Sends {
		nodes[i] = send.Node
	}
	return nodes
}

// To routes to a single node.
func To(node string) Route {
	return GotoOne{Node: node}
}

// ToMany routes to several nodes, which run together in the next super-step.
func ToMany(nodes ...string) Route {
	return GotoMany{Nodes: nodes}
}

// Dispatch runs one task per Send, each with its own payload overlaid on
// the target node's inputs.
func Dispatch(sends ...Send) Route {
	return FanOut{Sends: sends}
}

// RouterFunc decides where control goes after its source node. It sees the
// whole post-merge state of the run.
type RouterFunc func(ctx context.Context, state View) (Route, error)

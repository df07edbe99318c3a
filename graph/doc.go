// Package graph executes workflows described as graphs of nodes over a shared,
// schema-declared state.
//
// Execution is bulk-synchronous. Each super-step runs every ready task
// concurrently, waits for all of them, then merges their writes into the run
// state through the channel declared for each key ([Overwrite], [Append] or
// [Aggregate]). The next frontier is then computed from static edges, join
// barriers and conditional routers, and a checkpoint is written to the
// [checkpoint.Store] the graph was compiled with. A failing task discards the
// whole super-step; the last checkpoint stays the latest one.
//
// Routers return a [Route]: [To] one node, [ToMany] nodes, or [Dispatch] a
// fan-out where every [Send] becomes its own task with a private payload.
// A node may also be a compiled graph ([Builder.AddSubgraph]), whose run is
// nested under the parent run id.
//
// Nodes suspend a run with [Interrupt]. The caller inspects the interrupt
// payloads in [Result.Interrupts] and continues with [Graph.Resume]; the
// interrupted node runs again from the start and Interrupt returns the resume
// value. Static pauses are configured with [WithInterruptBefore] and
// [WithInterruptAfter].
//
// Example:
//
//	schema := graph.Schema{
//	    "items":   graph.Overwrite(),
//	    "item":    graph.Overwrite(),
//	    "results": graph.Append(),
//	}
//	fanOut := func(ctx context.Context, state graph.View) (graph.Route, error) {
//	    items, err := graph.Get[[]string](state, "items")
//	    if err != nil {
//	        return nil, err
//	    }
//	    sends := make([]graph.Send, len(items))
//	    for i, item := range items {
//	        sends[i] = graph.Send{Node: "lookup", Payload: map[string]any{"item": item}}
//	    }
//	    return graph.Dispatch(sends...), nil
//	}
//	g, err := graph.NewBuilder(schema).
//	    AddNode("lookup", lookup, []string{"item"}, []string{"results"}).
//	    AddConditionalEdge(graph.Start, fanOut, []string{"lookup"}).
//	    Compile(store)
//	result, err := g.Run(ctx, graph.State{"items": []string{"a", "b"}}, "")
package graph

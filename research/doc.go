// Package research runs a multi-stage research pipeline on the graph engine.
//
// A run takes a topic and optionally the subjects to research. Without
// subjects a completion service plans them. Each subject is looked up in a
// record service in parallel, then the run suspends so an operator can pick
// the candidates worth enriching or send the lookups round again with new
// subjects. Every picked candidate runs through an enrichment subgraph that
// fetches its page and summarizes it aspect by aspect, again in parallel.
// The sections are consolidated into a report and rendered.
//
//	pipeline, err := research.New(research.Collaborators{...}, store)
//	outcome, err := pipeline.Start(ctx, "run-1", research.Request{Topic: "anvils"})
//	// outcome.Review lists the candidates
//	outcome, err = pipeline.Continue(ctx, "run-1", research.Feedback{
//	    Decision: research.DecisionAccept,
//	    Selected: []string{outcome.Review.Candidates[0].ID},
//	})
//	fmt.Println(outcome.Document.Content)
//
// External calls that fail with a transient error are retried inside the
// node; the engine itself never retries.
package research

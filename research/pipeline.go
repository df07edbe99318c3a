package research

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leofalp/stategraph/checkpoint"
	"github.com/leofalp/stategraph/graph"
	"github.com/leofalp/stategraph/internal/convert"
)

// State keys of the research graph.
const (
	keyTopic      = "topic"
	keySubjects   = "subjects"
	keySubject    = "subject"
	keyCandidates = "candidates"
	keyAttempt    = "attempt"
	keyDecision   = "decision"
	keySelected   = "selected"
	keyCandidate  = "candidate"
	keySections   = "sections"
	keyReport     = "report"
	keyDocument   = "document"
)

// Node ids of the research graph.
const (
	NodePlan   = "plan"
	NodeLookup = "lookup"
	NodeReview = "review"
	NodeEnrich = "enrich"
	NodeReport = "report"
	NodeRender = "render"
)

// DefaultAspects are summarized for every enriched candidate.
var DefaultAspects = []string{"overview", "composition", "availability"}

const (
	defaultMaxAttempts   = 3
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 200 * time.Millisecond
	defaultMaxBackoff    = 5 * time.Second
	defaultMaxPageChars  = 20_000
	defaultMaxSubjects   = 10
)

// Option configures a Pipeline.
type Option func(*settings)

type settings struct {
	aspects      []string
	maxAttempts  int
	maxPageChars int
	maxSubjects  int
	retry        retryPolicy
	graphOptions []graph.Option
}

// WithAspects replaces DefaultAspects.
func WithAspects(aspects ...string) Option {
	return func(s *settings) {
		s.aspects = aspects
	}
}

// WithMaxAttempts bounds how many lookup rounds an operator may request.
func WithMaxAttempts(attempts int) Option {
	return func(s *settings) {
		s.maxAttempts = attempts
	}
}

// WithRetry sets how often a transient collaborator failure is retried and
// the initial delay between attempts.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(s *settings) {
		s.retry.attempts = attempts
		s.retry.backoff = backoff
	}
}

// WithMaxBackoff caps the delay between two retry attempts.
func WithMaxBackoff(limit time.Duration) Option {
	return func(s *settings) {
		s.retry.maxBackoff = limit
	}
}

// WithMaxPageChars truncates fetched pages before they are summarized.
func WithMaxPageChars(chars int) Option {
	return func(s *settings) {
		s.maxPageChars = chars
	}
}

// WithGraphOptions passes options to both compiled graphs, for example the
// engine settings from internal/config or an observer.
func WithGraphOptions(opts ...graph.Option) Option {
	return func(s *settings) {
		s.graphOptions = append(s.graphOptions, opts...)
	}
}

// Pipeline is a compiled research graph bound to a checkpoint store.
type Pipeline struct {
	collaborators Collaborators
	settings      settings
	graph         *graph.Graph
}

// New validates the collaborators and compiles the research graph with its
// enrichment subgraph. A nil store keeps checkpoints in memory.
func New(collaborators Collaborators, store checkpoint.Store, opts ...Option) (*Pipeline, error) {
	var errs []error
	if collaborators.Completion == nil {
		errs = append(errs, errors.New("completion collaborator is required"))
	}
	if collaborators.Search == nil {
		errs = append(errs, errors.New("search collaborator is required"))
	}
	if collaborators.Records == nil {
		errs = append(errs, errors.New("records collaborator is required"))
	}
	if collaborators.Renderer == nil {
		errs = append(errs, errors.New("renderer collaborator is required"))
	}
	if collaborators.Pages == nil {
		errs = append(errs, errors.New("page fetcher collaborator is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("research pipeline: %w", errors.Join(errs...))
	}

	s := settings{
		aspects:      DefaultAspects,
		maxAttempts:  defaultMaxAttempts,
		maxPageChars: defaultMaxPageChars,
		maxSubjects:  defaultMaxSubjects,
		retry:        retryPolicy{attempts: defaultRetryAttempts, backoff: defaultRetryBackoff, maxBackoff: defaultMaxBackoff},
	}
	for _, opt := range opts {
		opt(&s)
	}
	if len(s.aspects) == 0 {
		return nil, errors.New("research pipeline: at least one aspect is required")
	}

	pipeline := &Pipeline{collaborators: collaborators, settings: s}
	compiled, err := pipeline.build(store)
	if err != nil {
		return nil, err
	}
	pipeline.graph = compiled
	return pipeline, nil
}

// Graph returns the compiled graph, for inspection with GetState, History
// or Stream.
func (p *Pipeline) Graph() *graph.Graph {
	return p.graph
}

func (p *Pipeline) build(store checkpoint.Store) (*graph.Graph, error) {
	enrichment, err := p.buildEnrichment()
	if err != nil {
		return nil, err
	}

	schema := graph.Schema{
		keyTopic:      graph.Overwrite(),
		keySubjects:   graph.Overwrite(),
		keySubject:    graph.Overwrite(),
		keyCandidates: graph.Append(),
		keyAttempt:    graph.Overwrite(),
		keyDecision:   graph.Overwrite(),
		keySelected:   graph.Overwrite(),
		keyCandidate:  graph.Overwrite(),
		keySections:   graph.Append(),
		keyReport:     graph.Overwrite(),
		keyDocument:   graph.Overwrite(),
	}

	opts := append([]graph.Option{graph.WithName("research")}, p.settings.graphOptions...)
	return graph.NewBuilder(schema, opts...).
		AddNode(NodePlan, p.plan, []string{keyTopic}, []string{keySubjects}).
		AddNode(NodeLookup, p.lookup, []string{keySubject}, []string{keyCandidates}).
		AddNode(NodeReview, p.review,
			[]string{keyTopic, keySubjects, keyCandidates, keyAttempt},
			[]string{keyDecision, keySelected, keySubjects, keyAttempt}).
		AddSubgraph(NodeEnrich, enrichment, []string{keyCandidate}, []string{keySections}).
		AddNode(NodeReport, p.report, []string{keyTopic, keySubjects, keySections}, []string{keyReport}).
		AddNode(NodeRender, p.render, []string{keyReport}, []string{keyDocument}).
		AddConditionalEdge(graph.Start, p.routeEntry, []string{NodePlan, NodeLookup}).
		AddConditionalEdge(NodePlan, p.routePlan, []string{NodeLookup, NodeReport}).
		AddEdge(NodeLookup, NodeReview).
		AddConditionalEdge(NodeReview, p.routeFeedback, []string{NodeLookup, NodeEnrich, NodeReport}).
		AddEdge(NodeEnrich, NodeReport).
		AddEdge(NodeReport, NodeRender).
		AddEdge(NodeRender, graph.End).
		Compile(store)
}

// Request starts a research run.
type Request struct {
	Topic string `json:"topic"`
	// Subjects skips planning when set.
	Subjects []Subject `json:"subjects,omitempty"`
}

// Outcome is the state of a run after Start or Continue returned.
type Outcome struct {
	RunID  string
	Status graph.RunStatus

	// Review is set while the run waits for Feedback.
	Review *ReviewRequest

	Report   *Report
	Document *Document
}

// Start runs the pipeline until the operator review or the end.
func (p *Pipeline) Start(ctx context.Context, runID string, req Request) (*Outcome, error) {
	if req.Topic == "" {
		return nil, fmt.Errorf("%w: topic is required", graph.ErrValidation)
	}
	input := graph.State{keyTopic: req.Topic}
	if len(req.Subjects) > 0 {
		input[keySubjects] = req.Subjects
	}
	result, err := p.graph.Run(ctx, input, runID)
	if err != nil {
		return nil, err
	}
	return newOutcome(result)
}

// Continue answers the pending review of a run.
func (p *Pipeline) Continue(ctx context.Context, runID string, feedback Feedback) (*Outcome, error) {
	result, err := p.graph.Resume(ctx, runID, graph.Command{Resume: feedback})
	if err != nil {
		return nil, err
	}
	return newOutcome(result)
}

// Status reads the latest checkpoint of a run without executing anything.
func (p *Pipeline) Status(ctx context.Context, runID string) (*Outcome, error) {
	snapshot, err := p.graph.GetState(ctx, runID)
	if err != nil {
		return nil, err
	}
	return newOutcome(&graph.Result{
		RunID:      snapshot.RunID,
		Status:     snapshot.Status,
		Step:       snapshot.Step,
		State:      snapshot.State,
		Interrupts: snapshot.Interrupts,
	})
}

func newOutcome(result *graph.Result) (*Outcome, error) {
	outcome := &Outcome{RunID: result.RunID, Status: result.Status}
	view := graph.NewView(result.State)

	if result.Interrupted() {
		for _, interrupt := range result.Interrupts {
			if interrupt.Node != NodeReview {
				continue
			}
			review, err := convert.As[ReviewRequest](interrupt.Payload)
			if err != nil {
				return nil, fmt.Errorf("decode review request: %w", err)
			}
			review.InterruptID = interrupt.ID
			outcome.Review = &review
		}
		return outcome, nil
	}

	if report, ok, err := graph.Lookup[Report](view, keyReport); err != nil {
		return nil, err
	} else if ok {
		outcome.Report = &report
	}
	if document, ok, err := graph.Lookup[Document](view, keyDocument); err != nil {
		return nil, err
	} else if ok {
		outcome.Document = &document
	}
	return outcome, nil
}

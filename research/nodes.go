package research

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/leofalp/stategraph/graph"
	"github.com/leofalp/stategraph/internal/convert"
	"github.com/leofalp/stategraph/providers/observability"
)

// Decision is the operator's answer to a review.
type Decision string

const (
	// DecisionAccept enriches the selected candidates.
	DecisionAccept Decision = "accept"
	// DecisionRetry runs the lookups again, with new subjects when given.
	DecisionRetry Decision = "retry"
	// DecisionSkip goes straight to the report without enrichment.
	DecisionSkip Decision = "skip"
)

const reviewInstructions = "Answer with decision 'accept' and the ids of the candidates to enrich in 'selected', " +
	"'retry' with replacement 'subjects' to look them up again, or 'skip' to report without enrichment."

// ReviewRequest is the payload of the operator review interrupt.
type ReviewRequest struct {
	Topic        string      `json:"topic"`
	Candidates   []Candidate `json:"candidates"`
	Attempt      int         `json:"attempt"`
	MaxAttempts  int         `json:"max_attempts"`
	Instructions string      `json:"instructions"`

	// InterruptID identifies the pending interrupt of the run.
	InterruptID string `json:"-"`
}

// Feedback resumes a run waiting in review.
type Feedback struct {
	Decision Decision  `json:"decision"`
	Selected []string  `json:"selected,omitempty"`
	Subjects []Subject `json:"subjects,omitempty"`
}

func (p *Pipeline) routeEntry(_ context.Context, state graph.View) (graph.Route, error) {
	subjects, _, err := graph.Lookup[[]Subject](state, keySubjects)
	if err != nil {
		return nil, err
	}
	if len(subjects) == 0 {
		return graph.To(NodePlan), nil
	}
	return dispatchLookups(subjects), nil
}

func (p *Pipeline) routePlan(_ context.Context, state graph.View) (graph.Route, error) {
	subjects, _, err := graph.Lookup[[]Subject](state, keySubjects)
	if err != nil {
		return nil, err
	}
	if len(subjects) == 0 {
		return graph.To(NodeReport), nil
	}
	return dispatchLookups(subjects), nil
}

func dispatchLookups(subjects []Subject) graph.Route {
	sends := make([]graph.Send, len(subjects))
	for i, subject := range subjects {
		sends[i] = graph.Send{Node: NodeLookup, Payload: map[string]any{keySubject: subject}}
	}
	return graph.Dispatch(sends...)
}

func (p *Pipeline) routeFeedback(_ context.Context, state graph.View) (graph.Route, error) {
	decision, err := graph.Get[Decision](state, keyDecision)
	if err != nil {
		return nil, err
	}
	if decision == DecisionRetry {
		subjects, err := graph.Get[[]Subject](state, keySubjects)
		if err != nil {
			return nil, err
		}
		return dispatchLookups(subjects), nil
	}

	selected, _, err := graph.Lookup[[]Candidate](state, keySelected)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return graph.To(NodeReport), nil
	}
	sends := make([]graph.Send, len(selected))
	for i, candidate := range selected {
		sends[i] = graph.Send{Node: NodeEnrich, Payload: map[string]any{keyCandidate: candidate}}
	}
	return graph.Dispatch(sends...), nil
}

// plan asks the completion service for the subjects of the topic.
func (p *Pipeline) plan(ctx context.Context, state graph.View, _ graph.RunConfig) (graph.Output, error) {
	topic, err := graph.Get[string](state, keyTopic)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf("List at most %d subjects worth looking up to research %q. "+
		`Answer with a JSON array of objects with the fields "name" and optionally "form".`,
		p.settings.maxSubjects, topic)
	answer, err := withRetry(ctx, p.settings.retry, "completion", func(ctx context.Context) (string, error) {
		return p.collaborators.Completion.Complete(ctx, prompt)
	})
	if err != nil {
		return nil, fmt.Errorf("plan subjects: %w", err)
	}

	subjects, err := convert.FromString[[]Subject](stripCodeFence(answer))
	if err != nil {
		return nil, fmt.Errorf("plan subjects: %w", err)
	}
	subjects = slices.DeleteFunc(subjects, func(subject Subject) bool {
		return strings.TrimSpace(subject.Name) == ""
	})
	if len(subjects) > p.settings.maxSubjects {
		subjects = subjects[:p.settings.maxSubjects]
	}

	if observer := observability.ObserverFromContext(ctx); observer != nil {
		observer.Info(ctx, "research subjects planned",
			observability.String("research.topic", topic),
			observability.Int("research.subjects", len(subjects)),
		)
	}
	return graph.Update{keySubjects: subjects}, nil
}

// lookup runs once per subject and contributes the candidates found.
func (p *Pipeline) lookup(ctx context.Context, state graph.View, _ graph.RunConfig) (graph.Output, error) {
	subject, err := graph.Get[Subject](state, keySubject)
	if err != nil {
		return nil, err
	}

	found, err := withRetry(ctx, p.settings.retry, "records", func(ctx context.Context) ([]Candidate, error) {
		return p.collaborators.Records.Lookup(ctx, subject)
	})
	if err != nil {
		return nil, fmt.Errorf("lookup %q: %w", subject.Name, err)
	}

	candidates := make([]Candidate, len(found))
	for i, candidate := range found {
		if candidate.Subject == "" {
			candidate.Subject = subject.Name
		}
		if candidate.ID == "" {
			candidate.ID = fmt.Sprintf("%s#%d", subject.Name, i)
		}
		candidates[i] = candidate
	}

	if observer := observability.ObserverFromContext(ctx); observer != nil {
		observer.Debug(ctx, "records found",
			observability.String("research.subject", subject.Name),
			observability.Int("research.candidates", len(candidates)),
		)
	}
	return graph.Update{keyCandidates: candidates}, nil
}

// review suspends the run until the operator answers with Feedback.
func (p *Pipeline) review(ctx context.Context, state graph.View, _ graph.RunConfig) (graph.Output, error) {
	topic, err := graph.Get[string](state, keyTopic)
	if err != nil {
		return nil, err
	}
	candidates, _, err := graph.Lookup[[]Candidate](state, keyCandidates)
	if err != nil {
		return nil, err
	}
	attempt, _, err := graph.Lookup[int](state, keyAttempt)
	if err != nil {
		return nil, err
	}
	attempt++

	answer, err := graph.Interrupt(ctx, ReviewRequest{
		Topic:        topic,
		Candidates:   candidates,
		Attempt:      attempt,
		MaxAttempts:  p.settings.maxAttempts,
		Instructions: reviewInstructions,
	})
	if err != nil {
		return nil, err
	}
	feedback, err := convert.As[Feedback](answer)
	if err != nil {
		return nil, fmt.Errorf("%w: review feedback: %w", graph.ErrValidation, err)
	}

	switch feedback.Decision {
	case DecisionRetry:
		if attempt >= p.settings.maxAttempts {
			return nil, fmt.Errorf("%w: lookup attempts exhausted (%d of %d)", graph.ErrValidation, attempt, p.settings.maxAttempts)
		}
		subjects := feedback.Subjects
		if len(subjects) == 0 {
			if subjects, _, err = graph.Lookup[[]Subject](state, keySubjects); err != nil {
				return nil, err
			}
		}
		if len(subjects) == 0 {
			return nil, fmt.Errorf("%w: retry needs subjects", graph.ErrValidation)
		}
		return graph.Update{
			keyDecision: DecisionRetry,
			keyAttempt:  attempt,
			keySubjects: subjects,
			keySelected: []Candidate{},
		}, nil

	case DecisionAccept:
		selected, err := selectCandidates(candidates, feedback.Selected)
		if err != nil {
			return nil, err
		}
		return graph.Update{keyDecision: DecisionAccept, keyAttempt: attempt, keySelected: selected}, nil

	case DecisionSkip, "":
		return graph.Update{keyDecision: DecisionSkip, keyAttempt: attempt, keySelected: []Candidate{}}, nil

	default:
		return nil, fmt.Errorf("%w: unknown review decision %q", graph.ErrValidation, feedback.Decision)
	}
}

// selectCandidates resolves ids in the order given. The latest candidate
// wins when a retry returned the same id again.
func selectCandidates(candidates []Candidate, ids []string) ([]Candidate, error) {
	byID := make(map[string]Candidate, len(candidates))
	for _, candidate := range candidates {
		byID[candidate.ID] = candidate
	}

	selected := make([]Candidate, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		candidate, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown candidate %q", graph.ErrValidation, id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		selected = append(selected, candidate)
	}
	return selected, nil
}

// report consolidates the enriched sections.
func (p *Pipeline) report(_ context.Context, state graph.View, _ graph.RunConfig) (graph.Output, error) {
	topic, err := graph.Get[string](state, keyTopic)
	if err != nil {
		return nil, err
	}
	subjects, _, err := graph.Lookup[[]Subject](state, keySubjects)
	if err != nil {
		return nil, err
	}
	sections, _, err := graph.Lookup[[]Section](state, keySections)
	if err != nil {
		return nil, err
	}
	if sections == nil {
		sections = []Section{}
	}
	return graph.Update{keyReport: Report{Topic: topic, Subjects: subjects, Sections: sections}}, nil
}

func (p *Pipeline) render(ctx context.Context, state graph.View, _ graph.RunConfig) (graph.Output, error) {
	report, err := graph.Get[Report](state, keyReport)
	if err != nil {
		return nil, err
	}
	document, err := withRetry(ctx, p.settings.retry, "render", func(ctx context.Context) (Document, error) {
		return p.collaborators.Renderer.Render(ctx, report)
	})
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return graph.Update{keyDocument: document}, nil
}

// stripCodeFence removes a Markdown code fence around a completion answer.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
		trimmed = trimmed[newline+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(trimmed), "```"))
}

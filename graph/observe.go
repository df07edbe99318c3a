package graph

import (
	"context"
	"errors"
	"time"

	"github.com/leofalp/stategraph/checkpoint"
	"github.com/leofalp/stategraph/providers/observability"
)

// runObserver holds the provider and root span of one call. A nil provider
// turns every method into a no-op.
type runObserver struct {
	provider observability.Provider
	rootSpan observability.Span
	start    time.Time
	runID    string
	name     string
}

func (graph *Graph) observeRunStart(ctx context.Context, runID string, resumed bool) (context.Context, *runObserver) {
	observer := &runObserver{
		provider: graph.config.observer,
		start:    time.Now(),
		runID:    runID,
		name:     graph.config.name,
	}
	if observer.provider == nil {
		observer.provider = observability.ObserverFromContext(ctx)
	}
	if observer.provider == nil {
		return ctx, observer
	}

	attrs := []observability.Attribute{
		observability.String(observability.AttrRunID, runID),
		observability.Bool("run.resumed", resumed),
	}
	if observer.name != "" {
		attrs = append(attrs, observability.String(observability.AttrGraphName, observer.name))
	}
	ctx, observer.rootSpan = observer.provider.StartSpan(ctx, observability.SpanGraphRun, attrs...)
	ctx = observability.ContextWithObserver(ctx, observer.provider)

	message := "graph run started"
	if resumed {
		message = "graph run resumed"
	}
	observer.provider.Info(ctx, message, attrs...)
	return ctx, observer
}

func (observer *runObserver) runEnd(ctx context.Context, result *Result, err error) {
	if observer.provider == nil || observer.rootSpan == nil {
		return
	}
	duration := time.Since(observer.start)
	status := "failed"
	if err == nil && result != nil {
		status = string(result.Status)
	}
	statusAttr := observability.String(observability.AttrRunStatus, status)
	observer.provider.Histogram(observability.MetricRunDuration).Record(ctx, duration.Seconds(), statusAttr)

	attrs := []observability.Attribute{
		observability.String(observability.AttrRunID, observer.runID),
		statusAttr,
		observability.Duration(observability.AttrDuration, duration),
	}
	if err != nil {
		observer.provider.Error(ctx, "graph run failed", append(attrs, observability.Error(err))...)
		observer.rootSpan.RecordError(err)
		observer.rootSpan.SetStatus(observability.StatusError, err.Error())
	} else {
		attrs = append(attrs, observability.Int(observability.AttrStep, result.Step))
		if result.Interrupted() {
			observer.provider.Info(ctx, "graph run interrupted",
				append(attrs, observability.Int("interrupt.count", len(result.Interrupts)))...)
		} else {
			observer.provider.Info(ctx, "graph run completed", attrs...)
		}
		observer.rootSpan.SetStatus(observability.StatusOK, "graph run "+status)
	}
	observer.rootSpan.End()
}

func (observer *runObserver) stepStart(ctx context.Context, cp *checkpoint.Checkpoint) (context.Context, observability.Span) {
	if observer.provider == nil {
		return ctx, nil
	}
	nodes := nodesOf(cp.PendingTasks)
	ctx, span := observer.provider.StartSpan(ctx, observability.SpanGraphSuperStep,
		observability.Int(observability.AttrStep, cp.Step),
		observability.Int(observability.AttrFrontierSize, len(cp.PendingTasks)),
		observability.StringSlice(observability.AttrFrontierNodes, nodes),
	)
	observer.provider.Debug(ctx, "super-step started",
		observability.String(observability.AttrRunID, observer.runID),
		observability.Int(observability.AttrStep, cp.Step),
		observability.StringSlice(observability.AttrFrontierNodes, nodes),
	)
	return ctx, span
}

func (observer *runObserver) stepEnd(_ context.Context, span observability.Span, err error) {
	if observer.provider == nil || span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(observability.StatusError, "super-step discarded")
	} else {
		span.SetStatus(observability.StatusOK, "")
	}
	span.End()
}

func (observer *runObserver) stepCommitted(ctx context.Context, cp *checkpoint.Checkpoint, writes int) {
	if observer.provider == nil {
		return
	}
	observer.provider.Counter(observability.MetricSuperStepCount).Add(ctx, 1)
	observer.provider.Debug(ctx, "super-step committed",
		observability.String(observability.AttrRunID, observer.runID),
		observability.Int(observability.AttrStep, cp.Step),
		observability.Int("step.writes", writes),
	)
}

func (observer *runObserver) taskStart(ctx context.Context, step int, task checkpoint.Task) (context.Context, observability.Span) {
	if observer.provider == nil {
		return ctx, nil
	}
	attrs := []observability.Attribute{
		observability.String(observability.AttrNodeID, task.Node),
		observability.String(observability.AttrTaskID, task.ID),
		observability.Int(observability.AttrStep, step),
	}
	if task.DispatchedBy != "" {
		attrs = append(attrs, observability.String(observability.AttrDispatchedBy, task.DispatchedBy))
	}
	ctx, span := observer.provider.StartSpan(ctx, observability.SpanGraphTask, attrs...)
	observer.provider.Trace(ctx, "task started", attrs...)
	return ctx, span
}

func (observer *runObserver) taskEnd(ctx context.Context, span observability.Span, task checkpoint.Task, outcome taskOutcome, err error, duration time.Duration) {
	if observer.provider == nil || span == nil {
		return
	}
	status := checkpoint.TaskSucceeded
	switch {
	case err != nil:
		status = checkpoint.TaskFailed
	case outcome.interrupted():
		status = checkpoint.TaskInterrupted
	}
	attrs := []observability.Attribute{
		observability.String(observability.AttrNodeID, task.Node),
		observability.String(observability.AttrTaskStatus, string(status)),
	}
	observer.provider.Counter(observability.MetricTaskCount).Add(ctx, 1, attrs...)
	observer.provider.Histogram(observability.MetricTaskDuration).Record(ctx, duration.Seconds(), attrs...)

	logAttrs := append(attrs,
		observability.String(observability.AttrTaskID, task.ID),
		observability.Duration(observability.AttrDuration, duration),
	)
	switch status {
	case checkpoint.TaskFailed:
		level := observer.provider.Error
		if errors.Is(err, context.Canceled) {
			level = observer.provider.Debug
		}
		level(ctx, "task failed", append(logAttrs, observability.Error(err))...)
		span.RecordError(err)
		span.SetStatus(observability.StatusError, err.Error())
	case checkpoint.TaskInterrupted:
		for _, interrupt := range outcome.interrupts {
			span.AddEvent(observability.EventInterruptRaised,
				observability.String(observability.AttrInterruptID, interrupt.ID),
				observability.String(observability.AttrInterruptKind, string(interrupt.Kind)),
			)
		}
		observer.provider.Info(ctx, "task interrupted", logAttrs...)
		span.SetStatus(observability.StatusOK, "interrupted")
	default:
		observer.provider.Debug(ctx, "task completed", logAttrs...)
		span.SetStatus(observability.StatusOK, "")
	}
	span.End()
}

func (observer *runObserver) checkpointWritten(ctx context.Context, cp *checkpoint.Checkpoint) {
	if observer.provider == nil {
		return
	}
	observer.provider.Counter(observability.MetricCheckpointCount).Add(ctx, 1)
	if span := observability.SpanFromContext(ctx); span != nil {
		span.AddEvent(observability.EventCheckpointWritten,
			observability.Int(observability.AttrCheckpointSeq, cp.Seq),
			observability.Int(observability.AttrStep, cp.Step),
			observability.String(observability.AttrStatus, string(cp.Status)),
		)
	}
	observer.provider.Debug(ctx, "checkpoint written",
		observability.String(observability.AttrRunID, cp.RunID),
		observability.Int(observability.AttrCheckpointSeq, cp.Seq),
		observability.Int(observability.AttrStep, cp.Step),
		observability.String(observability.AttrStatus, string(cp.Status)),
	)
}

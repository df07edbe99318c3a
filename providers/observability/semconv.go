package observability

// Attribute keys, span names and metric names shared by every component.

// --- Run and super-step attributes ---

const (
	// AttrRunID is the run identity a span or log belongs to.
	AttrRunID = "run.id"

	// AttrRunStatus is the status a run finished a call in (completed, interrupted, failed).
	AttrRunStatus = "run.status"

	// AttrStep is the number of committed super-steps.
	AttrStep = "run.step"

	// AttrGraphName is the optional name given to a compiled graph.
	AttrGraphName = "graph.name"

	// AttrFrontierSize is the number of tasks scheduled in a super-step.
	AttrFrontierSize = "step.frontier_size"

	// AttrFrontierNodes lists the node ids scheduled in a super-step.
	AttrFrontierNodes = "step.frontier_nodes"
)

// --- Task attributes ---

const (
	AttrNodeID     = "task.node"
	AttrTaskID     = "task.id"
	AttrTaskStatus = "task.status"

	// AttrDispatchedBy is the task whose router produced a fan-out branch.
	AttrDispatchedBy = "task.dispatched_by"

	// AttrInterruptID identifies a raised interrupt.
	AttrInterruptID = "interrupt.id"

	// AttrInterruptKind is dynamic, before or after.
	AttrInterruptKind = "interrupt.kind"
)

// --- Checkpoint attributes ---

const (
	AttrCheckpointSeq   = "checkpoint.seq"
	AttrCheckpointStore = "checkpoint.store"
)

// --- HTTP attributes ---

const (
	AttrHTTPMethod           = "http.method"
	AttrHTTPStatusCode       = "http.status_code"
	AttrHTTPURL              = "http.url"
	AttrHTTPRequestBodySize  = "http.request.body.size"
	AttrHTTPResponseBodySize = "http.response.body.size"
)

// --- Completion attributes ---

const (
	AttrCompletionModel        = "completion.model"
	AttrCompletionFinishReason = "completion.finish_reason"
	AttrCompletionTokens       = "completion.tokens.total"
)

// --- General attributes ---

const (
	AttrError             = "error"
	AttrErrorType         = "error.type"
	AttrDuration          = "duration"
	AttrStatus            = "status"
	AttrStatusDescription = "status_description"
)

// --- Span names ---

const (
	SpanGraphRun       = "graph.run"
	SpanGraphSuperStep = "graph.superstep"
	SpanGraphTask      = "graph.task"
	SpanWebpageFetch   = "webpage.fetch"
	SpanCompletion     = "completion.request"
)

// --- Event names ---

const (
	EventCheckpointWritten = "checkpoint.written"
	EventInterruptRaised   = "interrupt.raised"
)

// --- Metric names ---

const (
	// MetricTaskCount counts finished tasks by status.
	MetricTaskCount = "stategraph.task.count"

	// MetricTaskDuration is the histogram of task wall time in seconds.
	MetricTaskDuration = "stategraph.task.duration"

	// MetricRunDuration is the histogram of Run/Resume wall time in seconds.
	MetricRunDuration = "stategraph.run.duration"

	// MetricSuperStepCount counts committed super-steps.
	MetricSuperStepCount = "stategraph.superstep.count"

	// MetricCheckpointCount counts checkpoints written.
	MetricCheckpointCount = "stategraph.checkpoint.count"
)

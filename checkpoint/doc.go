// Package checkpoint defines the durable record written by the graph engine
// after every super-step and the stores that persist it.
//
// A [Checkpoint] captures everything needed to continue a run on another
// process: the committed state, the frontier of pending tasks (including the
// writes of tasks that already finished inside an interrupted super-step),
// the live interrupts and the join barriers. Records are immutable once
// written; a newer record for the same run supersedes the previous one.
//
// Records travel as JSON produced by [Encode]. [Decode] refuses anything it
// cannot fully understand and reports it as [ErrCorrupted].
//
// Two stores live here: [MemoryStore] for tests and single-process use, and
// [FileStore] which keeps one JSON file per record on disk. A PostgreSQL store
// is provided by providers/checkpoint/pgcheckpoint.
package checkpoint

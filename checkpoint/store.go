package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Store persists checkpoints keyed by run id.
//
// Implementations must be safe for concurrent use. Runs are namespaced by
// "/": the records of a subgraph invoked by a parent run are stored under
// "<parent run id>/<task id>", and Delete removes those nested runs together
// with the parent.
type Store interface {
	// Put appends a record. It fails with ErrConflict when a record with the
	// same run id and sequence number already exists.
	Put(ctx context.Context, checkpoint *Checkpoint) error

	// Latest returns the record with the highest sequence number for a run,
	// or ErrNotFound.
	Latest(ctx context.Context, runID string) (*Checkpoint, error)

	// History returns every record of a run, oldest first, or ErrNotFound.
	History(ctx context.Context, runID string) ([]*Checkpoint, error)

	// Delete removes a run and its nested runs. Deleting an unknown run is
	// not an error.
	Delete(ctx context.Context, runID string) error

	// List returns the ids of all stored runs in lexical order.
	List(ctx context.Context) ([]string, error)
}

// MemoryStore keeps encoded records in memory. Decoding on every read hands
// callers an independent copy, so stored records cannot be mutated.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string][][]byte
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string][][]byte)}
}

// Put encodes and appends a record.
func (store *MemoryStore) Put(_ context.Context, checkpoint *Checkpoint) error {
	data, err := Encode(checkpoint)
	if err != nil {
		return err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	records := store.runs[checkpoint.RunID]
	for _, record := range records {
		existing, decodeErr := Decode(record)
		if decodeErr == nil && existing.Seq == checkpoint.Seq {
			return fmt.Errorf("%w: run %q seq %d", ErrConflict, checkpoint.RunID, checkpoint.Seq)
		}
	}
	store.runs[checkpoint.RunID] = append(records, data)
	return nil
}

// Latest returns the newest record of a run.
func (store *MemoryStore) Latest(ctx context.Context, runID string) (*Checkpoint, error) {
	history, err := store.History(ctx, runID)
	if err != nil {
		return nil, err
	}
	return history[len(history)-1], nil
}

// History decodes every record of a run in sequence order.
func (store *MemoryStore) History(_ context.Context, runID string) ([]*Checkpoint, error) {
	store.mu.RLock()
	records := store.runs[runID]
	store.mu.RUnlock()

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: run %q", ErrNotFound, runID)
	}

	history := make([]*Checkpoint, 0, len(records))
	for _, record := range records {
		checkpoint, err := Decode(record)
		if err != nil {
			return nil, fmt.Errorf("run %q: %w", runID, err)
		}
		history = append(history, checkpoint)
	}
	sort.SliceStable(history, func(indexA, indexB int) bool {
		return history[indexA].Seq < history[indexB].Seq
	})
	return history, nil
}

// Delete drops a run and every run nested under it.
func (store *MemoryStore) Delete(_ context.Context, runID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	for stored := range store.runs {
		if IsWithin(stored, runID) {
			delete(store.runs, stored)
		}
	}
	return nil
}

// List returns the stored run ids.
func (store *MemoryStore) List(_ context.Context) ([]string, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	runIDs := make([]string, 0, len(store.runs))
	for runID := range store.runs {
		runIDs = append(runIDs, runID)
	}
	sort.Strings(runIDs)
	return runIDs, nil
}

// IsWithin reports whether runID is root itself or a run nested under it.
func IsWithin(runID, root string) bool {
	return runID == root || strings.HasPrefix(runID, root+"/")
}

package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	defaultDirPerm  = 0750
	defaultFilePerm = 0600
	recordExtension = ".json"
)

// FileStore keeps one JSON file per record under a directory per run:
//
//	<dir>/<escaped run id>/<seq>.json
//
// Run ids are path-escaped so nested ids never create nested directories.
// Dots are escaped too, so ids such as ".." stay inside dir.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// Compile-time check that FileStore implements Store.
var _ Store = (*FileStore)(nil)

// NewFileStore creates the root directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Put writes a record through a temporary file and a rename so readers never
// observe a partially written record.
func (store *FileStore) Put(_ context.Context, checkpoint *Checkpoint) error {
	if checkpoint != nil && checkpoint.RunID == "" {
		return errors.New("checkpoint has no run id")
	}
	data, err := Encode(checkpoint)
	if err != nil {
		return err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	runDir := store.runDir(checkpoint.RunID)
	if err := os.MkdirAll(runDir, defaultDirPerm); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	path := filepath.Join(runDir, recordName(checkpoint.Seq))
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: run %q seq %d", ErrConflict, checkpoint.RunID, checkpoint.Seq)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, defaultFilePerm); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// Latest reads the record with the highest sequence number.
func (store *FileStore) Latest(_ context.Context, runID string) (*Checkpoint, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	sequences, err := store.sequences(runID)
	if err != nil {
		return nil, err
	}
	return store.read(runID, sequences[len(sequences)-1])
}

// History reads every record of a run, oldest first.
func (store *FileStore) History(_ context.Context, runID string) ([]*Checkpoint, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	sequences, err := store.sequences(runID)
	if err != nil {
		return nil, err
	}

	history := make([]*Checkpoint, 0, len(sequences))
	for _, seq := range sequences {
		checkpoint, err := store.read(runID, seq)
		if err != nil {
			return nil, err
		}
		history = append(history, checkpoint)
	}
	return history, nil
}

// Delete removes the run directory and the directories of nested runs.
func (store *FileStore) Delete(ctx context.Context, runID string) error {
	runIDs, err := store.List(ctx)
	if err != nil {
		return err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	for _, stored := range runIDs {
		if !IsWithin(stored, runID) {
			continue
		}
		if err := os.RemoveAll(store.runDir(stored)); err != nil {
			return fmt.Errorf("delete run %q: %w", stored, err)
		}
	}
	return nil
}

// List returns every run that has a directory in the store.
func (store *FileStore) List(_ context.Context) ([]string, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	entries, err := os.ReadDir(store.dir)
	if err != nil {
		return nil, fmt.Errorf("list checkpoint dir: %w", err)
	}

	runIDs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runID, err := url.PathUnescape(entry.Name())
		if err != nil {
			continue
		}
		runIDs = append(runIDs, runID)
	}
	sort.Strings(runIDs)
	return runIDs, nil
}

func (store *FileStore) runDir(runID string) string {
	return filepath.Join(store.dir, escapeRunID(runID))
}

func escapeRunID(runID string) string {
	return strings.ReplaceAll(url.PathEscape(runID), ".", "%2E")
}

// sequences lists the record numbers of a run in ascending order.
func (store *FileStore) sequences(runID string) ([]int, error) {
	entries, err := os.ReadDir(store.runDir(runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: run %q", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("read run dir: %w", err)
	}

	sequences := make([]int, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExtension) {
			continue
		}
		seq, err := strconv.Atoi(strings.TrimSuffix(name, recordExtension))
		if err != nil {
			continue
		}
		sequences = append(sequences, seq)
	}
	if len(sequences) == 0 {
		return nil, fmt.Errorf("%w: run %q", ErrNotFound, runID)
	}
	sort.Ints(sequences)
	return sequences, nil
}

func (store *FileStore) read(runID string, seq int) (*Checkpoint, error) {
	path := filepath.Join(store.runDir(runID), recordName(seq))
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	checkpoint, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return checkpoint, nil
}

func recordName(seq int) string {
	return fmt.Sprintf("%08d%s", seq, recordExtension)
}

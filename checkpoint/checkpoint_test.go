package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func sampleCheckpoint(runID string, seq int) *Checkpoint {
	return &Checkpoint{
		RunID:  runID,
		Seq:    seq,
		Step:   seq,
		Status: StatusRunning,
		State: map[string]any{
			"items":   []any{"a", "b"},
			"counter": float64(seq),
		},
		PendingTasks: []Task{
			{ID: "fanout:1:0", Node: "fanout", Status: TaskPending, Payload: map[string]any{"item": "a"}},
		},
		Interrupts: []Interrupt{},
		Barriers:   map[string][]string{"join": {"left"}},
		CreatedAt:  time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	original := sampleCheckpoint("run-1", 3)

	data, err := Encode(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if original.Version != FormatVersion {
		t.Fatalf("expected version to be stamped with %d, got %d", FormatVersion, original.Version)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(original, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_Corruption(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{{{"},
		{"truncated", `{"version":1,"run_id":"r"`},
		{"unknown version", `{"version":99,"run_id":"r","state":{}}`},
		{"missing run id", `{"version":1,"state":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			if !errors.Is(err, ErrCorrupted) {
				t.Fatalf("expected ErrCorrupted, got %v", err)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	got, err := Normalize([]record{{Name: "x", Count: 2}})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	want := []any{map[string]any{"name": "x", "count": float64(2)}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected normalized value (-want +got):\n%s", diff)
	}

	if _, err := Normalize(make(chan int)); err == nil {
		t.Error("expected error for non-serializable value")
	}
}

func TestNext_SkipsSucceededTasks(t *testing.T) {
	checkpoint := &Checkpoint{PendingTasks: []Task{
		{Node: "a", Status: TaskSucceeded},
		{Node: "b", Status: TaskInterrupted},
		{Node: "c", Status: TaskPending},
	}}
	if diff := cmp.Diff([]string{"b", "c"}, checkpoint.Next()); diff != "" {
		t.Errorf("unexpected next nodes (-want +got):\n%s", diff)
	}
}

// storeContract runs the behaviour every Store implementation must share.
func storeContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Latest(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown run, got %v", err)
	}

	for seq := 0; seq < 3; seq++ {
		if err := store.Put(ctx, sampleCheckpoint("run-1", seq)); err != nil {
			t.Fatalf("put seq %d: %v", seq, err)
		}
	}
	if err := store.Put(ctx, sampleCheckpoint("run-1/child:1:0", 0)); err != nil {
		t.Fatalf("put nested: %v", err)
	}
	if err := store.Put(ctx, sampleCheckpoint("run-10", 0)); err != nil {
		t.Fatalf("put sibling: %v", err)
	}

	if err := store.Put(ctx, sampleCheckpoint("run-1", 1)); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate seq, got %v", err)
	}

	latest, err := store.Latest(ctx, "run-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Seq != 2 {
		t.Errorf("expected latest seq 2, got %d", latest.Seq)
	}

	// Mutating a returned record must not leak into the store.
	latest.State["counter"] = "mutated"
	again, err := store.Latest(ctx, "run-1")
	if err != nil {
		t.Fatalf("latest again: %v", err)
	}
	if again.State["counter"] != float64(2) {
		t.Errorf("stored record was mutated through a returned copy: %v", again.State["counter"])
	}

	history, err := store.History(ctx, "run-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 records, got %d", len(history))
	}
	for index, record := range history {
		if record.Seq != index {
			t.Errorf("history[%d] has seq %d", index, record.Seq)
		}
	}

	runs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]string{"run-1", "run-1/child:1:0", "run-10"}, runs); diff != "" {
		t.Errorf("unexpected runs (-want +got):\n%s", diff)
	}

	if err := store.Delete(ctx, "run-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	runs, err = store.List(ctx)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if diff := cmp.Diff([]string{"run-10"}, runs); diff != "" {
		t.Errorf("delete must remove nested runs only (-want +got):\n%s", diff)
	}
	if err := store.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("deleting an unknown run should succeed, got %v", err)
	}
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestFileStore_Contract(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	storeContract(t, store)
}

func TestFileStore_CorruptedRecord(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}

	ctx := context.Background()
	if err := store.Put(ctx, sampleCheckpoint("run-1", 0)); err != nil {
		t.Fatalf("put: %v", err)
	}

	path := filepath.Join(dir, "run-1", recordName(0))
	if err := os.WriteFile(path, []byte("not a checkpoint"), 0600); err != nil {
		t.Fatalf("overwrite record: %v", err)
	}

	if _, err := store.Latest(ctx, "run-1"); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("expected ErrCorrupted, got %v", err)
	}
}

func TestFileStore_DotRunIDsStayInside(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "store")
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	sibling := filepath.Join(root, "keep.txt")
	if err := os.WriteFile(sibling, []byte("x"), 0600); err != nil {
		t.Fatalf("write sibling: %v", err)
	}

	ctx := context.Background()
	for _, runID := range []string{"..", ".", "v1.2"} {
		if err := store.Put(ctx, sampleCheckpoint(runID, 0)); err != nil {
			t.Fatalf("put %q: %v", runID, err)
		}
	}
	runIDs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]string{".", "..", "v1.2"}, runIDs); diff != "" {
		t.Errorf("run ids mismatch (-want +got):\n%s", diff)
	}

	if err := store.Delete(ctx, ".."); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(sibling); err != nil {
		t.Fatalf("deleting %q must not touch the parent directory: %v", "..", err)
	}
	if _, err := store.Latest(ctx, "v1.2"); err != nil {
		t.Errorf("other runs must survive: %v", err)
	}
	if _, err := store.Latest(ctx, ".."); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestFileStore_RejectsEmptyRunID(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := store.Put(context.Background(), sampleCheckpoint("", 0)); err == nil {
		t.Fatal("expected an error for an empty run id")
	}
}

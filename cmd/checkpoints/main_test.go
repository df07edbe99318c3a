package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leofalp/stategraph/checkpoint"
)

func seedStore(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	store, err := checkpoint.NewFileStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []*checkpoint.Checkpoint{
		{
			RunID:        "run-1",
			Seq:          0,
			Step:         0,
			Status:       checkpoint.StatusRunning,
			State:        map[string]any{"query": "acme"},
			PendingTasks: []checkpoint.Task{{ID: "lookup:0:0", Node: "lookup", Status: checkpoint.TaskPending}},
			CreatedAt:    created,
		},
		{
			RunID:        "run-1",
			Seq:          1,
			Step:         1,
			Status:       checkpoint.StatusInterrupted,
			State:        map[string]any{"query": "acme", "records": []any{"r1"}},
			PendingTasks: []checkpoint.Task{{ID: "choose:1:0", Node: "choose", Status: checkpoint.TaskPending}},
			Interrupts:   []checkpoint.Interrupt{{ID: "choose:1:0#0", TaskID: "choose:1:0", Node: "choose", Kind: checkpoint.InterruptDynamic}},
			CreatedAt:    created.Add(time.Second),
		},
		{
			RunID:     "run-1/enrich:2:0",
			Seq:       0,
			Status:    checkpoint.StatusCompleted,
			State:     map[string]any{},
			CreatedAt: created,
		},
		{
			RunID:     "run-2",
			Seq:       0,
			Status:    checkpoint.StatusCompleted,
			State:     map[string]any{"answer": 42},
			CreatedAt: created,
		},
	}
	for _, cp := range records {
		require.NoError(t, store.Put(ctx, cp))
	}
	return dir
}

func runCommand(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	base := []string{
		"-env-file", filepath.Join(t.TempDir(), "absent.env"),
		"-backend", "file",
		"-dir", dir,
	}
	err := run(context.Background(), out, &bytes.Buffer{}, append(base, args...))
	return out.String(), err
}

func TestRun_List(t *testing.T) {
	dir := seedStore(t)

	out, err := runCommand(t, dir, "list")
	require.NoError(t, err)
	require.Equal(t, "run-1\nrun-1/enrich:2:0\nrun-2\n", out)
}

func TestRun_History(t *testing.T) {
	dir := seedStore(t)

	out, err := runCommand(t, dir, "history", "run-1")
	require.NoError(t, err)
	require.Contains(t, out, "SEQ")
	require.Contains(t, out, "interrupted")
	require.Contains(t, out, "choose:1:0#0")
	require.Contains(t, out, "2026-03-01T12:00:01Z")
}

func TestRun_Show(t *testing.T) {
	dir := seedStore(t)

	t.Run("latest", func(t *testing.T) {
		out, err := runCommand(t, dir, "show", "run-1")
		require.NoError(t, err)

		var cp checkpoint.Checkpoint
		require.NoError(t, json.Unmarshal([]byte(out), &cp))
		require.Equal(t, 1, cp.Seq)
		require.Equal(t, checkpoint.StatusInterrupted, cp.Status)
	})

	t.Run("by sequence", func(t *testing.T) {
		out, err := runCommand(t, dir, "show", "run-1", "0")
		require.NoError(t, err)

		var cp checkpoint.Checkpoint
		require.NoError(t, json.Unmarshal([]byte(out), &cp))
		require.Equal(t, 0, cp.Seq)
		require.Equal(t, []string{"lookup"}, cp.Next())
	})

	t.Run("unknown sequence", func(t *testing.T) {
		_, err := runCommand(t, dir, "show", "run-1", "9")
		require.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run("invalid sequence", func(t *testing.T) {
		_, err := runCommand(t, dir, "show", "run-1", "last")
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		require.Equal(t, 2, exitErr.Code)
	})
}

func TestRun_Discard(t *testing.T) {
	dir := seedStore(t)

	out, err := runCommand(t, dir, "discard", "run-1")
	require.NoError(t, err)
	require.Equal(t, "discarded run-1\n", out)

	out, err = runCommand(t, dir, "list")
	require.NoError(t, err)
	require.Equal(t, "run-2\n", out, "nested runs are discarded with their parent")

	_, err = runCommand(t, dir, "discard", "run-1")
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestRun_UsageErrors(t *testing.T) {
	dir := seedStore(t)

	tests := []struct {
		name   string
		args   []string
		errMsg string
	}{
		{name: "no command", args: nil, errMsg: "missing command"},
		{name: "unknown command", args: []string{"prune"}, errMsg: `unknown command "prune"`},
		{name: "history without run", args: []string{"history"}, errMsg: "history: missing RUN_ID"},
		{name: "memory backend", args: []string{"-backend", "memory", "list"}, errMsg: "memory backend"},
		{name: "postgres without dsn", args: []string{"-backend", "postgres", "list"}, errMsg: "dsn required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCommand(t, dir, tt.args...)
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			require.Equal(t, 2, exitErr.Code)
			require.Contains(t, exitErr.Message, tt.errMsg)
		})
	}
}

func TestRun_Help(t *testing.T) {
	out := &bytes.Buffer{}
	err := run(context.Background(), out, &bytes.Buffer{}, []string{"-h"})
	require.NoError(t, err)
	require.Contains(t, out.String(), "Usage:")
}

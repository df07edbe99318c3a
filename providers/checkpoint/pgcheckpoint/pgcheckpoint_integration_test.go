//go:build integration

package pgcheckpoint

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/leofalp/stategraph/checkpoint"
	"github.com/leofalp/stategraph/graph"
)

// testPool is shared by every integration test.
var testPool *pgxpool.Pool

// TestMain starts a PostgreSQL container, creates the schema, and tears
// everything down after all tests complete.
func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("stategraph_test"),
		postgres.WithUsername("stategraph"),
		postgres.WithPassword("stategraph"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Fatalf("pgcheckpoint: failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("pgcheckpoint: failed to get connection string: %v", err)
	}

	testPool, err = pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("pgcheckpoint: failed to create pool: %v", err)
	}

	if err := New(testPool).EnsureSchema(ctx); err != nil {
		log.Fatalf("pgcheckpoint: failed to create schema: %v", err)
	}

	code := m.Run()

	testPool.Close()
	if err := testcontainers.TerminateContainer(pgContainer); err != nil {
		log.Printf("pgcheckpoint: failed to terminate container: %v", err)
	}

	os.Exit(code)
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := New(testPool)
	runID := "roundtrip-" + t.Name()

	for seq := range 3 {
		cp := &checkpoint.Checkpoint{
			RunID:     runID,
			Seq:       seq,
			Step:      seq,
			Status:    checkpoint.StatusRunning,
			State:     map[string]any{"count": float64(seq)},
			CreatedAt: time.Now().UTC(),
		}
		if err := store.Put(ctx, cp); err != nil {
			t.Fatalf("Put seq %d: %v", seq, err)
		}
	}

	duplicate := &checkpoint.Checkpoint{RunID: runID, Seq: 1, Status: checkpoint.StatusRunning, CreatedAt: time.Now().UTC()}
	if err := store.Put(ctx, duplicate); !errors.Is(err, checkpoint.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	latest, err := store.Latest(ctx, runID)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Seq != 2 || latest.State["count"] != 2.0 {
		t.Errorf("unexpected latest record %+v", latest)
	}

	history, err := store.History(ctx, runID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 || history[0].Seq != 0 {
		t.Errorf("unexpected history length %d", len(history))
	}
}

func TestStore_DeleteNested(t *testing.T) {
	ctx := context.Background()
	store := New(testPool)

	for _, runID := range []string{"parent", "parent/child:0:0", "parent-other"} {
		cp := &checkpoint.Checkpoint{RunID: runID, Status: checkpoint.StatusRunning, CreatedAt: time.Now().UTC()}
		if err := store.Put(ctx, cp); err != nil {
			t.Fatalf("Put %s: %v", runID, err)
		}
	}

	if err := store.Delete(ctx, "parent"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	for _, runID := range []string{"parent", "parent/child:0:0"} {
		if _, err := store.Latest(ctx, runID); !errors.Is(err, checkpoint.ErrNotFound) {
			t.Errorf("%s should be deleted, got %v", runID, err)
		}
	}
	if _, err := store.Latest(ctx, "parent-other"); err != nil {
		t.Errorf("sibling run must survive, got %v", err)
	}
}

// TestStore_ResumeAcrossGraphs runs a graph until it interrupts and resumes
// it with a second graph instance sharing only the database.
func TestStore_ResumeAcrossGraphs(t *testing.T) {
	ctx := context.Background()
	build := func() *graph.Graph {
		ask := func(ctx context.Context, _ graph.View, _ graph.RunConfig) (graph.Output, error) {
			answer, err := graph.Interrupt(ctx, "approve?")
			if err != nil {
				return nil, err
			}
			return graph.Update{"answer": answer}, nil
		}
		compiled, err := graph.NewBuilder(graph.Schema{"answer": graph.Overwrite()}).
			AddNode("ask", ask, nil, []string{"answer"}).
			AddEdge(graph.Start, "ask").
			Compile(New(testPool))
		if err != nil {
			t.Fatalf("compile: %v", err)
		}
		return compiled
	}

	result, err := build().Run(ctx, nil, "resume-"+t.Name())
	if err != nil || !result.Interrupted() {
		t.Fatalf("expected an interrupted run, got %+v, %v", result, err)
	}

	result, err = build().Resume(ctx, "resume-"+t.Name(), graph.Command{Resume: "yes"})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if result.State["answer"] != "yes" {
		t.Errorf("unexpected answer %v", result.State["answer"])
	}
}

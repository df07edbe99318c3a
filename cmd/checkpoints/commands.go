package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/leofalp/stategraph/checkpoint"
)

type commands struct {
	store checkpoint.Store
	out   io.Writer
}

func (cmd *commands) list(ctx context.Context) error {
	runIDs, err := cmd.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	for _, runID := range runIDs {
		fmt.Fprintln(cmd.out, runID)
	}
	return nil
}

func (cmd *commands) history(ctx context.Context, runID string) error {
	records, err := cmd.store.History(ctx, runID)
	if err != nil {
		return fmt.Errorf("history of %q: %w", runID, err)
	}

	writer := tabwriter.NewWriter(cmd.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "SEQ\tSTEP\tSTATUS\tNEXT\tINTERRUPTS\tCREATED")
	for _, cp := range records {
		fmt.Fprintf(writer, "%d\t%d\t%s\t%s\t%s\t%s\n",
			cp.Seq,
			cp.Step,
			cp.Status,
			orDash(strings.Join(cp.Next(), ",")),
			orDash(interruptIDs(cp.Interrupts)),
			cp.CreatedAt.UTC().Format(time.RFC3339),
		)
	}
	return writer.Flush()
}

// show prints one checkpoint as indented JSON, the latest when seq is empty.
func (cmd *commands) show(ctx context.Context, runID, seq string) error {
	var (
		cp  *checkpoint.Checkpoint
		err error
	)
	if seq == "" {
		cp, err = cmd.store.Latest(ctx, runID)
	} else {
		cp, err = cmd.find(ctx, runID, seq)
	}
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	_, err = fmt.Fprintln(cmd.out, string(data))
	return err
}

func (cmd *commands) find(ctx context.Context, runID, seq string) (*checkpoint.Checkpoint, error) {
	n, err := strconv.Atoi(seq)
	if err != nil {
		return nil, &ExitError{Code: 2, Message: fmt.Sprintf("show: invalid SEQ %q", seq)}
	}
	records, err := cmd.store.History(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("history of %q: %w", runID, err)
	}
	for _, cp := range records {
		if cp.Seq == n {
			return cp, nil
		}
	}
	return nil, fmt.Errorf("%w: run %q has no checkpoint %d", checkpoint.ErrNotFound, runID, n)
}

func (cmd *commands) discard(ctx context.Context, runID string) error {
	if _, err := cmd.store.Latest(ctx, runID); err != nil {
		return fmt.Errorf("discard %q: %w", runID, err)
	}
	if err := cmd.store.Delete(ctx, runID); err != nil {
		return fmt.Errorf("discard %q: %w", runID, err)
	}
	fmt.Fprintf(cmd.out, "discarded %s\n", runID)
	return nil
}

func interruptIDs(interrupts []checkpoint.Interrupt) string {
	ids := make([]string, len(interrupts))
	for i, interrupt := range interrupts {
		ids[i] = interrupt.ID
	}
	return strings.Join(ids, ",")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

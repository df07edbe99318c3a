package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/leofalp/stategraph/graph"
	"github.com/leofalp/stategraph/research"
)

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string {
	return strings.Join(*l, ",")
}

func (l *listFlag) Set(value string) error {
	*l = append(*l, value)
	return nil
}

type commands struct {
	pipeline *research.Pipeline
	stdout   io.Writer
	stderr   io.Writer
	// out is the document path; empty writes to stdout.
	out string
}

func (c *commands) start(ctx context.Context, args []string) error {
	flagSet := flag.NewFlagSet("start", flag.ContinueOnError)
	flagSet.SetOutput(c.stderr)
	runID := flagSet.String("run-id", "", "Run id; a random one is generated when empty.")
	subjects := &listFlag{}
	flagSet.Var(subjects, "subject", "Subject as NAME or NAME:FORM; repeatable. Skips planning.")
	if err := flagSet.Parse(args); err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}
	topic := strings.TrimSpace(strings.Join(flagSet.Args(), " "))
	if topic == "" {
		return &ExitError{Code: 2, Message: "start: missing TOPIC"}
	}

	outcome, err := c.pipeline.Start(ctx, *runID, research.Request{
		Topic:    topic,
		Subjects: parseSubjects(*subjects),
	})
	if err != nil {
		return usageOr(err)
	}
	return c.report(outcome)
}

func (c *commands) resume(ctx context.Context, args []string) error {
	flagSet := flag.NewFlagSet("continue", flag.ContinueOnError)
	flagSet.SetOutput(c.stderr)
	decision := flagSet.String("decision", string(research.DecisionAccept), "Review decision: accept, retry or skip.")
	selected := &listFlag{}
	flagSet.Var(selected, "select", "Candidate id to enrich; repeatable.")
	subjects := &listFlag{}
	flagSet.Var(subjects, "subject", "Replacement subject for retry as NAME or NAME:FORM; repeatable.")
	if err := flagSet.Parse(args); err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}
	runID, err := requireRunID("continue", flagSet.Args())
	if err != nil {
		return err
	}

	outcome, err := c.pipeline.Continue(ctx, runID, research.Feedback{
		Decision: research.Decision(*decision),
		Selected: *selected,
		Subjects: parseSubjects(*subjects),
	})
	if err != nil {
		return usageOr(err)
	}
	return c.report(outcome)
}

func (c *commands) status(ctx context.Context, args []string) error {
	runID, err := requireRunID("status", args)
	if err != nil {
		return err
	}
	outcome, err := c.pipeline.Status(ctx, runID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "run %s: %s\n", outcome.RunID, outcome.Status)
	if outcome.Review != nil {
		return writeJSON(c.stdout, outcome.Review)
	}
	return nil
}

// report prints the pending review, or delivers the finished document.
func (c *commands) report(outcome *research.Outcome) error {
	if outcome.Review != nil {
		if err := writeJSON(c.stdout, outcome.Review); err != nil {
			return err
		}
		fmt.Fprintf(c.stderr, "run %s waits for review; continue with:\n  research continue -decision accept -select ID %s\n",
			outcome.RunID, outcome.RunID)
		return nil
	}
	if outcome.Document == nil {
		fmt.Fprintf(c.stderr, "run %s: %s without a document\n", outcome.RunID, outcome.Status)
		return nil
	}
	if c.out == "" {
		_, err := io.WriteString(c.stdout, outcome.Document.Content)
		return err
	}
	if err := os.WriteFile(c.out, []byte(outcome.Document.Content), 0o644); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	fmt.Fprintf(c.stderr, "run %s: document written to %s\n", outcome.RunID, c.out)
	return nil
}

func parseSubjects(values []string) []research.Subject {
	subjects := make([]research.Subject, 0, len(values))
	for _, value := range values {
		name, form, _ := strings.Cut(value, ":")
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		subjects = append(subjects, research.Subject{Name: name, Form: strings.TrimSpace(form)})
	}
	return subjects
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func requireRunID(command string, args []string) (string, error) {
	if len(args) == 0 || args[0] == "" {
		return "", &ExitError{Code: 2, Message: command + ": missing RUN_ID"}
	}
	return args[0], nil
}

// usageOr turns caller mistakes into exit code 2.
func usageOr(err error) error {
	if errors.Is(err, graph.ErrValidation) || errors.Is(err, graph.ErrRunNotFound) ||
		errors.Is(err, graph.ErrRunExists) || errors.Is(err, graph.ErrRunCompleted) {
		return &ExitError{Code: 2, Message: err.Error()}
	}
	return err
}

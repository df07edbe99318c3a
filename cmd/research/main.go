// Command research runs the research pipeline against live services: an
// OpenAI compatible completion endpoint, DuckDuckGo search and plain web
// pages. Runs stop for operator review and are continued by run id.
//
//	research [options] start [-run-id ID] [-subject NAME[:FORM]]... TOPIC
//	research [options] continue [-decision D] [-select ID]... [-subject NAME[:FORM]]... RUN_ID
//	research [options] status RUN_ID
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/leofalp/stategraph/graph"
	"github.com/leofalp/stategraph/internal/config"
	"github.com/leofalp/stategraph/internal/storage"
	"github.com/leofalp/stategraph/providers/observability"
	"github.com/leofalp/stategraph/providers/observability/slogobs"
	"github.com/leofalp/stategraph/research"
)

// ExitError carries a specific process exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:], liveCollaborators); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// collaboratorFactory builds the pipeline's services; tests replace it.
type collaboratorFactory func(opts serviceOptions) research.Collaborators

func run(ctx context.Context, stdout, stderr io.Writer, args []string, newCollaborators collaboratorFactory) error {
	flagSet := flag.NewFlagSet("research", flag.ContinueOnError)
	flagSet.SetOutput(stdout)
	flagSet.Usage = func() {
		fmt.Fprint(stdout, `
research - run the research pipeline with operator review.

Usage:
  research [options] start [-run-id ID] [-subject NAME[:FORM]]... TOPIC
  research [options] continue [-decision accept|retry|skip] [-select ID]... [-subject NAME[:FORM]]... RUN_ID
  research [options] status RUN_ID

Options:
`)
		flagSet.PrintDefaults()
	}

	configPath := flagSet.String("config", "", "Path to an HCL config file.")
	envFile := flagSet.String("env-file", ".env", "Path to a .env file; missing files are ignored.")
	backend := flagSet.String("backend", "", "Checkpoint backend: 'file' or 'postgres'.")
	dir := flagSet.String("dir", "", "Directory of the file backend.")
	dsn := flagSet.String("dsn", "", "PostgreSQL connection string.")
	model := flagSet.String("model", "", "Completion model; defaults to the client's model.")
	aspects := &listFlag{}
	flagSet.Var(aspects, "aspect", "Aspect to summarize per candidate; repeatable.")
	out := flagSet.String("out", "", "Write the finished document to this file instead of stdout.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return &ExitError{Code: 2, Message: err.Error()}
	}
	if flagSet.NArg() == 0 {
		flagSet.Usage()
		return &ExitError{Code: 2, Message: "missing command"}
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		return err
	}
	overlay := config.Config{Checkpoint: config.CheckpointConfig{
		Backend: config.Backend(*backend),
		Dir:     *dir,
		DSN:     *dsn,
	}}
	cfg.Merge(&overlay)
	if err := cfg.Finalize(nil); err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}
	if cfg.Checkpoint.Backend == config.BackendMemory {
		return &ExitError{Code: 2, Message: "the memory backend cannot keep a run between start and continue"}
	}

	observer := slogobs.New(
		slogobs.WithLevel(slogobs.ParseLogLevel(cfg.Log.Level)),
		slogobs.WithFormat(slogobs.ParseFormat(cfg.Log.Format)),
		slogobs.WithOutput(stderr),
	)
	ctx = observability.ContextWithObserver(ctx, observer)

	store, closeStore, err := storage.Open(ctx, cfg.Checkpoint)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := []research.Option{
		research.WithGraphOptions(append(cfg.Engine.GraphOptions(), graph.WithObserver(observer))...),
	}
	if len(*aspects) > 0 {
		opts = append(opts, research.WithAspects(*aspects...))
	}
	pipeline, err := research.New(newCollaborators(serviceOptions{model: *model}), store, opts...)
	if err != nil {
		return err
	}

	cmd := &commands{pipeline: pipeline, stdout: stdout, stderr: stderr, out: *out}
	name, rest := flagSet.Arg(0), flagSet.Args()[1:]
	switch name {
	case "start":
		return cmd.start(ctx, rest)
	case "continue":
		return cmd.resume(ctx, rest)
	case "status":
		return cmd.status(ctx, rest)
	default:
		return &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q", name)}
	}
}

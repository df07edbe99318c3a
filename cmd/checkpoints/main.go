// Command checkpoints inspects and discards graph runs persisted in a
// checkpoint store.
//
//	checkpoints [options] list
//	checkpoints [options] history RUN_ID
//	checkpoints [options] show RUN_ID [SEQ]
//	checkpoints [options] discard RUN_ID
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

	"github.com/leofalp/stategraph/internal/config"
	"github.com/leofalp/stategraph/internal/storage"
	"github.com/leofalp/stategraph/providers/observability"
	"github.com/leofalp/stategraph/providers/observability/slogobs"
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

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	flagSet := flag.NewFlagSet("checkpoints", flag.ContinueOnError)
	flagSet.SetOutput(stdout)
	flagSet.Usage = func() {
		fmt.Fprint(stdout, `
checkpoints - inspect persisted graph runs.

Usage:
  checkpoints [options] list
  checkpoints [options] history RUN_ID
  checkpoints [options] show RUN_ID [SEQ]
  checkpoints [options] discard RUN_ID

Options:
`)
		flagSet.PrintDefaults()
	}

	configPath := flagSet.String("config", "", "Path to an HCL config file.")
	envFile := flagSet.String("env-file", ".env", "Path to a .env file; missing files are ignored.")
	backend := flagSet.String("backend", "", "Checkpoint backend: 'file' or 'postgres'.")
	dir := flagSet.String("dir", "", "Directory of the file backend.")
	dsn := flagSet.String("dsn", "", "PostgreSQL connection string.")
	table := flagSet.String("table", "", "PostgreSQL checkpoint table.")

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
		Table:   *table,
	}}
	cfg.Merge(&overlay)
	if err := cfg.Finalize(nil); err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}
	if cfg.Checkpoint.Backend == config.BackendMemory {
		return &ExitError{Code: 2, Message: "the memory backend holds no runs between processes"}
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
	observer.Debug(ctx, "checkpoint store opened",
		observability.String("checkpoint.backend", string(cfg.Checkpoint.Backend)))

	cmd := &commands{store: store, out: stdout}
	name, rest := flagSet.Arg(0), flagSet.Args()[1:]
	switch name {
	case "list":
		return cmd.list(ctx)
	case "history":
		runID, err := requireRunID(name, rest)
		if err != nil {
			return err
		}
		return cmd.history(ctx, runID)
	case "show":
		runID, err := requireRunID(name, rest)
		if err != nil {
			return err
		}
		seq := ""
		if len(rest) > 1 {
			seq = rest[1]
		}
		return cmd.show(ctx, runID, seq)
	case "discard":
		runID, err := requireRunID(name, rest)
		if err != nil {
			return err
		}
		return cmd.discard(ctx, runID)
	default:
		return &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q", name)}
	}
}

func requireRunID(command string, args []string) (string, error) {
	if len(args) == 0 || args[0] == "" {
		return "", &ExitError{Code: 2, Message: command + ": missing RUN_ID"}
	}
	return args[0], nil
}

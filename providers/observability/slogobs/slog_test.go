package slogobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/leofalp/stategraph/providers/observability"
)

func newTestObserver(t *testing.T, level slog.Level) (*Observer, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return New(WithFormat(FormatJSON), WithLevel(level), WithOutput(&buf)), &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("invalid json line %q: %v", line, err)
		}
		records = append(records, record)
	}
	return records
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"trace", LevelTrace},
		{"DEBUG", slog.LevelDebug},
		{" info ", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLogLevel(tt.input); got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	if got := ParseFormat("JSON"); got != FormatJSON {
		t.Errorf("expected json, got %s", got)
	}
	if got := ParseFormat("pretty"); got != FormatText {
		t.Errorf("expected text fallback, got %s", got)
	}
}

func TestEnvironmentDefaults(t *testing.T) {
	t.Setenv("STATEGRAPH_LOG_LEVEL", "")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("STATEGRAPH_LOG_FORMAT", "json")

	if got := LevelFromEnv(); got != slog.LevelWarn {
		t.Errorf("expected LOG_LEVEL fallback, got %v", got)
	}
	if got := FormatFromEnv(); got != FormatJSON {
		t.Errorf("expected json, got %s", got)
	}

	t.Setenv("STATEGRAPH_LOG_LEVEL", "debug")
	if got := LevelFromEnv(); got != slog.LevelDebug {
		t.Errorf("expected STATEGRAPH_LOG_LEVEL to win, got %v", got)
	}
}

func TestObserver_LevelsAndTrace(t *testing.T) {
	observer, buf := newTestObserver(t, LevelTrace)
	ctx := context.Background()

	observer.Trace(ctx, "frontier computed", observability.Int(observability.AttrFrontierSize, 2))
	observer.Info(ctx, "run completed", observability.String(observability.AttrRunID, "run-1"))

	records := decodeLines(t, buf)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0]["level"] != "TRACE" {
		t.Errorf("expected TRACE level name, got %v", records[0]["level"])
	}
	if records[1][observability.AttrRunID] != "run-1" {
		t.Errorf("expected run id attribute, got %v", records[1])
	}
}

func TestObserver_FiltersBelowLevel(t *testing.T) {
	observer, buf := newTestObserver(t, slog.LevelWarn)
	observer.Debug(context.Background(), "hidden")
	observer.Warn(context.Background(), "shown")

	records := decodeLines(t, buf)
	if len(records) != 1 || records[0]["msg"] != "shown" {
		t.Errorf("expected only the warning, got %v", records)
	}
}

func TestObserver_SpanNestingAndStatus(t *testing.T) {
	observer, buf := newTestObserver(t, slog.LevelDebug)

	ctx, run := observer.StartSpan(context.Background(), observability.SpanGraphRun)
	if observability.SpanFromContext(ctx) != run {
		t.Fatal("expected span in returned context")
	}
	_, task := observer.StartSpan(ctx, observability.SpanGraphTask, observability.String(observability.AttrNodeID, "lookup"))
	task.RecordError(errors.New("timeout"))
	task.SetStatus(observability.StatusError, "timeout")
	task.End()
	task.End()
	run.End()

	records := decodeLines(t, buf)
	var ends, errs int
	for _, record := range records {
		switch record["event"] {
		case "span.end":
			ends++
			if record["span"] == observability.SpanGraphTask {
				if record["parent"] != observability.SpanGraphRun {
					t.Errorf("expected parent span name, got %v", record["parent"])
				}
				if record[observability.AttrStatus] != "error" {
					t.Errorf("expected error status, got %v", record[observability.AttrStatus])
				}
			}
		}
		if record["msg"] == "span error" {
			errs++
		}
	}
	if ends != 2 {
		t.Errorf("expected 2 span.end records, got %d", ends)
	}
	if errs != 1 {
		t.Errorf("expected 1 span error record, got %d", errs)
	}
}

func TestObserver_Metrics(t *testing.T) {
	observer, _ := newTestObserver(t, slog.LevelInfo)
	ctx := context.Background()

	counter := observer.Counter(observability.MetricTaskCount)
	counter.Add(ctx, 2)
	observer.Counter(observability.MetricTaskCount).Add(ctx, 3)

	observer.Histogram(observability.MetricTaskDuration).Record(ctx, 0.5)
	observer.Histogram(observability.MetricTaskDuration).Record(ctx, 1.5)

	if got := observer.CounterValue(observability.MetricTaskCount); got != 5 {
		t.Errorf("expected counter total 5, got %d", got)
	}
	count, sum := observer.HistogramStats(observability.MetricTaskDuration)
	if count != 2 || sum != 2.0 {
		t.Errorf("expected 2 observations summing to 2.0, got %d and %v", count, sum)
	}
	if got := observer.CounterValue("unknown"); got != 0 {
		t.Errorf("expected zero for unknown counter, got %d", got)
	}
}

func TestObserver_WithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	observer := New(WithLogger(logger), WithFormat(FormatJSON))

	observer.Info(context.Background(), "checkpoint written")
	if !strings.Contains(buf.String(), "msg=\"checkpoint written\"") {
		t.Errorf("expected text output from provided logger, got %q", buf.String())
	}
	if observer.Logger() != logger {
		t.Error("expected Logger to return the provided logger")
	}
}

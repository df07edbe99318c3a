package slogobs

import (
	"log/slog"
	"os"
	"strings"
)

// Format selects the slog handler used for output.
type Format string

const (
	// FormatText is slog's key=value text output.
	FormatText Format = "text"

	// FormatJSON emits one JSON object per record, for log aggregation.
	FormatJSON Format = "json"
)

// LevelTrace sits below debug and is only emitted when explicitly enabled.
const LevelTrace = slog.LevelDebug - 4

const (
	envLogFormat = "STATEGRAPH_LOG_FORMAT"
	envLogLevel  = "STATEGRAPH_LOG_LEVEL"
)

// ParseFormat maps a format name to a Format, defaulting to FormatText.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON
	default:
		return FormatText
	}
}

// ParseLogLevel maps a level name to a slog.Level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FormatFromEnv reads STATEGRAPH_LOG_FORMAT, then LOG_FORMAT.
func FormatFromEnv() Format {
	return ParseFormat(firstEnv(envLogFormat, "LOG_FORMAT"))
}

// LevelFromEnv reads STATEGRAPH_LOG_LEVEL, then LOG_LEVEL.
func LevelFromEnv() slog.Level {
	return ParseLogLevel(firstEnv(envLogLevel, "LOG_LEVEL"))
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

func levelName(level slog.Level) string {
	if level <= LevelTrace {
		return "TRACE"
	}
	return level.String()
}

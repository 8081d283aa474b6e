package config

import (
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// ParseLevel maps a level name to a slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger returns the process logger and a cleanup function.
// Without a log file it writes JSON to stdout. With one it writes text to
// stderr and JSON to the file.
func SetupLogger(logFile string, level slog.Level) (*slog.Logger, func() error) {
	noop := func() error { return nil }
	opts := &slog.HandlerOptions{Level: level}

	if logFile == "" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), noop
	}

	stderrHandler := slog.NewTextHandler(os.Stderr, opts)

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		// Fall back to stderr-only if file fails
		slog.Error("failed to open log file, using stderr only", "error", err, "file", logFile)
		return slog.New(stderrHandler), noop
	}

	logger := slog.New(slogmulti.Fanout(stderrHandler, slog.NewJSONHandler(file, opts)))
	return logger, file.Close
}

// SetupLoggerWithWriters creates a fanout logger over custom writers.
func SetupLoggerWithWriters(stderr, file io.Writer, level slog.Level) *slog.Logger {
	stderrHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(stderrHandler, fileHandler))
}

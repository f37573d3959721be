package util

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

type loggerContextKey struct{}

// ParseLevel maps debug, info, warn and error to slog levels. Unknown input is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// InitLogger configures the global slog logger with JSON output on w.
// When logFile is set, records are also appended to that file as JSON.
// The returned cleanup closes the file and is never nil.
func InitLogger(level, logFile string, w io.Writer) (*slog.Logger, func() error) {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level), AddSource: true}
	primary := slog.NewJSONHandler(w, opts)
	cleanup := func() error { return nil }

	var logger *slog.Logger
	file, err := openLogFile(logFile)
	switch {
	case err != nil:
		logger = slog.New(primary)
		logger.Error("failed to open log file, using primary output only", "err", err, "file", logFile)
	case file != nil:
		logger = slog.New(slogmulti.Fanout(primary, slog.NewJSONHandler(file, opts)))
		cleanup = file.Close
	default:
		logger = slog.New(primary)
	}
	slog.SetDefault(logger)
	return logger, cleanup
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// ContextWithLogger stores logger in ctx.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// LoggerFromContext returns the request-scoped logger, or slog.Default.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return slog.Default()
}

// Fatal logs msg at error level through the default logger and exits.
func Fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

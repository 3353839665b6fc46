package sindi

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with sindi-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// LogInsert logs an insert operation.
func (l *Logger) LogInsert(ctx context.Context, label uint64, terms int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed",
			"label", label,
			"terms", terms,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "insert completed",
			"label", label,
			"terms", terms,
		)
	}
}

// LogBatchInsert logs a batch insert operation.
func (l *Logger) LogBatchInsert(ctx context.Context, count, failed int) {
	if failed > 0 {
		l.WarnContext(ctx, "batch insert completed with failures",
			"total", count,
			"failed", failed,
			"success", count-failed,
		)
	} else {
		l.InfoContext(ctx, "batch insert completed",
			"count", count,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogRangeSearch logs a range search operation.
func (l *Logger) LogRangeSearch(ctx context.Context, radius float32, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "range search failed",
			"radius", radius,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "range search completed",
			"radius", radius,
			"results", resultsFound,
		)
	}
}

// LogRemove logs a logical removal.
func (l *Logger) LogRemove(ctx context.Context, label uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "remove failed",
			"label", label,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "remove completed",
			"label", label,
		)
	}
}

// LogSnapshot logs a serialize/deserialize operation.
func (l *Logger) LogSnapshot(ctx context.Context, op string, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"op", op,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot completed",
			"op", op,
			"bytes", bytes,
		)
	}
}

package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

var (
	slogger *slog.Logger
	logFile *os.File
)

// Options controls where structured logs go
type Options struct {
	Dir    string    // Log directory; empty disables the log file
	JSON   bool      // JSON output instead of text
	Stdout io.Writer // Console writer; nil means os.Stdout
	Level  slog.Level
}

// InitSlog initializes the slog-based logger.
// The MCP stdio server must pass os.Stderr as Stdout so protocol frames stay clean.
func InitSlog(opts Options) error {
	console := opts.Stdout
	if console == nil {
		console = os.Stdout
	}

	writer := console
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return err
		}

		logFileName := "execstream-" + time.Now().Format("2006-01-02") + ".log"
		f, err := os.OpenFile(filepath.Join(opts.Dir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		logFile = f
		writer = io.MultiWriter(console, logFile)
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(writer, handlerOpts)
	} else {
		handler = slog.NewTextHandler(writer, handlerOpts)
	}

	slogger = slog.New(handler)
	slog.SetDefault(slogger)

	return nil
}

// CloseSlog closes the slog log file
func CloseSlog() error {
	if logFile != nil {
		err := logFile.Close()
		logFile = nil
		return err
	}
	return nil
}

// Slog returns the slog.Logger instance for structured logging
func Slog() *slog.Logger {
	if slogger == nil {
		return slog.Default()
	}
	return slogger
}

// Context keys for structured logging
type contextKey string

const (
	ContextKeyRequestID   contextKey = "request_id"
	ContextKeyExecutionID contextKey = "execution_id"
	ContextKeyTargetID    contextKey = "target_id"
)

// WithExecution returns a context carrying the execution and target ids
func WithExecution(ctx context.Context, executionID, targetID string) context.Context {
	if executionID != "" {
		ctx = context.WithValue(ctx, ContextKeyExecutionID, executionID)
	}
	if targetID != "" {
		ctx = context.WithValue(ctx, ContextKeyTargetID, targetID)
	}
	return ctx
}

// WithContext returns a logger with context fields
func WithContext(ctx context.Context) *slog.Logger {
	logger := Slog()

	if requestID := ctx.Value(ContextKeyRequestID); requestID != nil {
		logger = logger.With("request_id", requestID)
	}
	if executionID := ctx.Value(ContextKeyExecutionID); executionID != nil {
		logger = logger.With("execution_id", executionID)
	}
	if targetID := ctx.Value(ContextKeyTargetID); targetID != nil {
		logger = logger.With("target_id", targetID)
	}

	return logger
}

// InfoContext logs an info message with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Info(msg, args...)
}

// ErrorContext logs an error with context
func ErrorContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Error(msg, args...)
}

// WarnContext logs a warning with context
func WarnContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Warn(msg, args...)
}

// DebugContext logs debug info with context
func DebugContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Debug(msg, args...)
}

// Package audit records who issued which control operation.
package audit

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Operation represents the type of auditable operation
type Operation string

const (
	OpExecutionStart  Operation = "execution.start"
	OpExecutionPause  Operation = "execution.pause"
	OpExecutionResume Operation = "execution.resume"
	OpExecutionStop   Operation = "execution.stop"
	OpApprovalRespond Operation = "approval.respond"
)

// Event represents an audit log entry
type Event struct {
	Timestamp   time.Time      `json:"timestamp"`
	Operation   Operation      `json:"operation"`
	Actor       string         `json:"actor,omitempty"` // token name, or "cli"/"stdio" for local callers
	ExecutionID string         `json:"execution_id,omitempty"`
	TargetID    string         `json:"target_id,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// Logger handles audit logging
type Logger struct {
	logger  *slog.Logger
	enabled bool
	mu      sync.RWMutex
}

// New creates an audit logger writing JSON lines to w (stderr when nil)
func New(w io.Writer, enabled bool) *Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &Logger{logger: slog.New(handler), enabled: enabled}
}

// Discard returns a logger that records nothing
func Discard() *Logger {
	return New(io.Discard, false)
}

// SetEnabled enables or disables audit logging
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Log records an audit event
func (l *Logger) Log(event *Event) {
	if l == nil {
		return
	}
	l.mu.RLock()
	enabled := l.enabled
	l.mu.RUnlock()
	if !enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	attrs := []any{
		slog.String("audit", "true"),
		slog.String("operation", string(event.Operation)),
		slog.Bool("success", event.Success),
	}
	if event.Actor != "" {
		attrs = append(attrs, slog.String("actor", event.Actor))
	}
	if event.ExecutionID != "" {
		attrs = append(attrs, slog.String("execution_id", event.ExecutionID))
	}
	if event.TargetID != "" {
		attrs = append(attrs, slog.String("target_id", event.TargetID))
	}
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	if event.Details != nil {
		detailsJSON, _ := json.Marshal(event.Details)
		attrs = append(attrs, slog.String("details", string(detailsJSON)))
	}

	l.logger.Info("AUDIT", attrs...)
}

// Record logs op by actor against an execution; err nil means success
func (l *Logger) Record(op Operation, actor, executionID string, err error) {
	event := &Event{
		Operation:   op,
		Actor:       actor,
		ExecutionID: executionID,
		Success:     err == nil,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

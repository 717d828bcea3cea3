package session

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/HyphaGroup/execstream/internal/logger"
	"github.com/HyphaGroup/execstream/internal/wire"
)

// EffectKind names a side effect requested by the reducer
type EffectKind string

const (
	// EffectCloseStream asks the controller to close the transport after this event
	EffectCloseStream EffectKind = "close_stream"
	// EffectNotify surfaces a notice to the user
	EffectNotify EffectKind = "notify"
	// EffectRefresh invokes the mutating-tool collaborator callback
	EffectRefresh EffectKind = "refresh"
	// EffectPersist stores a folded message
	EffectPersist EffectKind = "persist"
	// EffectToolSettled reports a tool record reaching completed or error
	EffectToolSettled EffectKind = "tool_settled"
)

// Effect is a side effect for the controller to carry out.
// The reducer itself performs no I/O.
type Effect struct {
	Kind    EffectKind
	Notice  *Notice
	Tool    string
	Status  ToolStatus
	Result  any
	Message *Message
}

// DefaultMutatingTools are tools whose completion changes documents, folders or files
var DefaultMutatingTools = []string{
	"create_document",
	"edit_document",
	"delete_document",
	"move_document",
	"rename_document",
	"create_folder",
	"delete_folder",
	"move_folder",
	"rename_folder",
	"generate_image",
	"attach_file",
}

const previewTool = "edit_document"

// Reducer applies decoded events to a Session.
// Reduce never mutates its input; the zero Reducer is usable.
type Reducer struct {
	// Now stamps records and messages; defaults to time.Now
	Now func() time.Time
	// NewMessageID names folded messages; defaults to a random UUID
	NewMessageID func() string
	// IsMutating reports whether a tool changes external objects;
	// defaults to membership in DefaultMutatingTools
	IsMutating func(tool string) bool
	// Log receives diagnostics; defaults to the package logger
	Log *slog.Logger
}

// MutatingSet builds an IsMutating func from a list of tool names
func MutatingSet(tools []string) func(string) bool {
	set := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		set[t] = struct{}{}
	}
	return func(tool string) bool {
		_, ok := set[tool]
		return ok
	}
}

var defaultMutating = MutatingSet(DefaultMutatingTools)

func (r *Reducer) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Reducer) messageID() string {
	if r.NewMessageID != nil {
		return r.NewMessageID()
	}
	return uuid.NewString()
}

func (r *Reducer) mutating(tool string) bool {
	if r.IsMutating != nil {
		return r.IsMutating(tool)
	}
	return defaultMutating(tool)
}

func (r *Reducer) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return logger.Slog()
}

// Reduce returns the state after applying ev to s, plus the effects it requests.
// Unknown event types return s unchanged.
func (r *Reducer) Reduce(s Session, ev *wire.Event) (Session, []Effect) {
	if ev == nil {
		return s, nil
	}

	next := s.Clone()
	var effects []Effect

	switch ev.Type {
	case wire.EventStatus:
		next.StatusMessage = ev.Message
		r.confirmControl(&next, ev.Message)

	case wire.EventIteration:
		next.Iteration = Iteration{Current: ev.Current, Max: ev.Max}

	case wire.EventIterationLimit:
		next.Iteration = Iteration{Current: ev.Current, Max: ev.Max}
		msg := ev.Message
		if msg == "" {
			msg = fmt.Sprintf("Iteration limit reached (%d/%d)", ev.Current, ev.Max)
		}
		effects = append(effects, r.notice(&next, NoticeWarning, msg))

	case wire.EventTaskList:
		next.Tasks = make([]TaskItem, len(ev.Tasks))
		for i, t := range ev.Tasks {
			next.Tasks[i] = TaskItem{
				ID:          string(t.ID),
				Description: t.Description,
				ToolName:    t.ToolName,
				Status:      t.Status,
			}
		}

	case wire.EventTaskUpdate:
		for i := range next.Tasks {
			if next.Tasks[i].ID == string(ev.TaskID) {
				next.Tasks[i].Status = ev.TaskStatus
				break
			}
		}

	case wire.EventToolApprovalRequest:
		if prev := next.PendingApproval; prev != nil {
			// Replace semantics: the earlier request is dropped without a record change
			r.log().Warn("approval request replaced an outstanding approval",
				"previous_approval_id", prev.ApprovalID, "previous_tool", prev.Tool,
				"approval_id", ev.ApprovalID, "tool", ev.Tool)
		}
		next.PendingApproval = &PendingApproval{
			ApprovalID: ev.ApprovalID,
			Tool:       ev.Tool,
			Args:       ev.Args,
			Index:      ev.Index,
			Total:      ev.Total,
		}
		r.appendRecord(&next, ev, ToolPending, "approval")
		if ev.Tool == previewTool {
			if content, ok := ev.Args["content"].(string); ok {
				next.Preview = content
			}
		}

	case wire.EventToolApproved:
		if i := lastRecord(next.Tools, ev.Tool, ToolPending); i >= 0 {
			next.Tools[i].Status = ToolExecuting
			next.CurrentTool = ev.Tool
		}
		clearApprovalFor(&next, ev.Tool)

	case wire.EventToolAutoApproved:
		r.appendRecord(&next, ev, ToolExecuting, "auto")
		clearApprovalFor(&next, ev.Tool)

	case wire.EventToolRejected:
		if i := lastRecord(next.Tools, ev.Tool, ToolPending); i >= 0 {
			next.Tools[i].Status = ToolError
			next.Tools[i].Result = RejectedResult
			effects = append(effects, Effect{Kind: EffectToolSettled, Tool: ev.Tool, Status: ToolError})
		}
		next.PendingApproval = nil

	case wire.EventToolStart:
		if lastRecord(next.Tools, ev.Tool, ToolExecuting) < 0 {
			r.appendRecord(&next, ev, ToolExecuting, "start")
		}

	case wire.EventToolComplete:
		if i := lastRecord(next.Tools, ev.Tool, ToolExecuting); i >= 0 {
			next.Tools[i].Status = ToolCompleted
			next.Tools[i].Result = ev.Result
			next.Tools[i].Duration = ev.DurationMs
			effects = append(effects, Effect{Kind: EffectToolSettled, Tool: ev.Tool, Status: ToolCompleted})
		}
		if next.CurrentTool == ev.Tool {
			next.CurrentTool = ""
		}
		next.CreatedObjects = append(next.CreatedObjects, createdObjects(ev.Tool, ev.Result)...)
		if r.mutating(ev.Tool) {
			effects = append(effects, Effect{Kind: EffectRefresh, Tool: ev.Tool, Result: ev.Result})
		}

	case wire.EventToolError:
		if i := lastRecord(next.Tools, ev.Tool, ToolExecuting); i >= 0 {
			next.Tools[i].Status = ToolError
			next.Tools[i].Error = ev.Error
			next.Tools[i].Result = ev.Error
			effects = append(effects, Effect{Kind: EffectToolSettled, Tool: ev.Tool, Status: ToolError})
		}
		if next.CurrentTool == ev.Tool {
			next.CurrentTool = ""
		}

	case wire.EventMessageChunk:
		next.StreamText += ev.Content

	case wire.EventDone:
		if next.StreamText != "" || len(next.Tools) > 0 {
			msg := Message{
				ID:          r.messageID(),
				ExecutionID: next.ExecutionID,
				Role:        "assistant",
				Content:     next.StreamText,
				Tools:       next.Tools,
				Tasks:       next.Tasks,
				CreatedAt:   r.now(),
			}
			next.History = append(next.History, msg)
			effects = append(effects, Effect{Kind: EffectPersist, Message: &msg})
		}
		next.StreamText = ""
		next.Preview = ""
		next.Tools = nil
		next.Tasks = nil
		next.CurrentTool = ""
		next.PendingApproval = nil
		// A workflow run streams on until complete
		if next.Mode != ModeWorkflow {
			r.finish(&next, StatusCompleted)
			effects = append(effects, Effect{Kind: EffectCloseStream})
		}

	case wire.EventError:
		msg := ev.Message
		if msg == "" {
			msg = ev.Error
		}
		if msg == "" {
			msg = "execution failed"
		}
		next.Error = msg
		r.finish(&next, StatusFailed)
		effects = append(effects, r.notice(&next, NoticeError, msg), Effect{Kind: EffectCloseStream})

	case wire.EventNodeStart:
		next.CurrentNodeID = ev.NodeID
		next.Logs = append(next.Logs, fmt.Sprintf("Node %s started", ev.NodeID))

	case wire.EventNodeComplete:
		next.Outputs[ev.NodeID] = ev.Output
		next.Logs = append(next.Logs, fmt.Sprintf("Node %s completed", ev.NodeID))

	case wire.EventNodeError:
		next.Logs = append(next.Logs, fmt.Sprintf("Node %s failed: %s", ev.NodeID, firstNonEmpty(ev.Error, ev.Message)))

	case wire.EventProgress:
		next.Progress = clampProgress(ev.Progress)

	case wire.EventLog:
		next.Logs = append(next.Logs, ev.Message)

	case wire.EventComplete:
		for k, v := range ev.Outputs {
			next.Outputs[k] = v
		}
		next.CurrentNodeID = ""
		r.finish(&next, StatusCompleted)
		effects = append(effects, Effect{Kind: EffectCloseStream})

	default:
		return s, nil
	}

	return next, effects
}

// finish moves the session to a terminal status set by the stream
func (r *Reducer) finish(s *Session, status Status) {
	s.Status = status
	s.AuthoritativeStatus = status
	s.PendingControl = nil
	s.PendingApproval = nil
	s.EndedAt = r.now()
}

// confirmControl clears the pending-ack overlay when the server reports the
// state the optimistic write assumed
func (r *Reducer) confirmControl(s *Session, message string) {
	if s.PendingControl == nil {
		return
	}
	var confirmed Status
	switch strings.ToLower(strings.TrimSpace(message)) {
	case "paused":
		if s.PendingControl.Command == CommandPause {
			confirmed = StatusPaused
		}
	case "resumed", "running":
		if s.PendingControl.Command == CommandResume {
			confirmed = StatusRunning
		}
	case "stopped":
		if s.PendingControl.Command == CommandStop {
			confirmed = StatusStopped
		}
	}
	if confirmed == "" {
		return
	}
	s.Status = confirmed
	s.AuthoritativeStatus = confirmed
	s.PendingControl = nil
}

func (r *Reducer) notice(s *Session, level NoticeLevel, msg string) Effect {
	n := Notice{Level: level, Message: msg, At: r.now()}
	s.Notices = append(s.Notices, n)
	return Effect{Kind: EffectNotify, Notice: &n}
}

func (r *Reducer) appendRecord(s *Session, ev *wire.Event, status ToolStatus, phase string) {
	now := r.now()
	s.Seq++
	s.Tools = append(s.Tools, ToolRecord{
		ID:        fmt.Sprintf("%d-%d-%s", now.UnixMilli(), s.Seq, phase),
		Tool:      ev.Tool,
		Args:      ev.Args,
		Status:    status,
		Timestamp: now,
		Index:     ev.Index,
		Total:     ev.Total,
	})
	if status == ToolExecuting {
		s.CurrentTool = ev.Tool
	}
}

// lastRecord returns the index of the most recent record for tool in status, or -1
func lastRecord(records []ToolRecord, tool string, status ToolStatus) int {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Tool == tool && records[i].Status == status {
			return i
		}
	}
	return -1
}

func clearApprovalFor(s *Session, tool string) {
	if s.PendingApproval != nil && s.PendingApproval.Tool == tool {
		s.PendingApproval = nil
	}
}

// createdObjects extracts "id" and "*_id" string fields from a tool result
func createdObjects(tool string, result any) []CreatedObject {
	m, ok := result.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		if k == "id" || strings.HasSuffix(k, "_id") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var out []CreatedObject
	for _, k := range keys {
		var id string
		switch v := m[k].(type) {
		case string:
			id = v
		case float64:
			id = fmt.Sprintf("%v", v)
		default:
			continue
		}
		if id == "" {
			continue
		}
		out = append(out, CreatedObject{Tool: tool, Key: k, ID: id})
	}
	return out
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Package wire decodes the execution event stream.
//
// events.go - event type constants and the decoded Event record
//
// The stream is UTF-8 text split into lines. Only lines of the form
// "data: <payload>" carry events; the payload is a JSON object whose
// "type" field selects one of the constants below. The literal payload
// [DONE] marks the end of the stream and carries no event.

package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// EventType is the "type" field of an event payload
type EventType string

// Agent turn events
const (
	EventStatus              EventType = "status"
	EventIteration           EventType = "iteration"
	EventIterationLimit      EventType = "iteration_limit"
	EventTaskList            EventType = "task_list"
	EventTaskUpdate          EventType = "task_update"
	EventToolApprovalRequest EventType = "tool_approval_request"
	EventToolApproved        EventType = "tool_approved"
	EventToolAutoApproved    EventType = "tool_auto_approved"
	EventToolRejected        EventType = "tool_rejected"
	EventToolStart           EventType = "tool_start"
	EventToolComplete        EventType = "tool_complete"
	EventToolError           EventType = "tool_error"
	EventMessageChunk        EventType = "message_chunk"
	EventDone                EventType = "done"
	EventError               EventType = "error"
)

// Workflow run events
const (
	EventNodeStart    EventType = "node_start"
	EventNodeComplete EventType = "node_complete"
	EventNodeError    EventType = "node_error"
	EventProgress     EventType = "progress"
	EventLog          EventType = "log"
	EventComplete     EventType = "complete"
)

const (
	// DataPrefix starts every event line
	DataPrefix = "data:"
	// Sentinel is the end-of-stream payload
	Sentinel = "[DONE]"
)

// IsTerminal reports whether the event ends the stream
func (t EventType) IsTerminal() bool {
	return t == EventDone || t == EventComplete || t == EventError
}

// ID is a task identifier. Servers send either strings or numbers;
// numbers are kept in their shortest decimal form.
type ID string

// Task is one planned step in a task_list event
type Task struct {
	ID          ID     `json:"id"`
	Description string `json:"description"`
	ToolName    string `json:"tool_name"`
	Status      string `json:"status"`
}

// Event is one decoded stream record. Only the fields relevant to Type are set;
// everything else in the payload is kept in Raw.
type Event struct {
	Type EventType `json:"type"`

	// status, iteration_limit, error, log
	Message string `json:"message,omitempty"`

	// iteration, iteration_limit
	Current int `json:"current,omitempty"`
	Max     int `json:"max,omitempty"`

	// task_list, task_update
	Tasks      []Task `json:"tasks,omitempty"`
	TaskID     ID     `json:"task_id,omitempty"`
	TaskStatus string `json:"status,omitempty"`

	// tool_* events
	ApprovalID string         `json:"approval_id,omitempty"`
	Tool       string         `json:"tool,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Index      int            `json:"index,omitempty"`
	Total      int            `json:"total,omitempty"`
	Result     any            `json:"result,omitempty"`
	DurationMs float64        `json:"duration_ms,omitempty"`
	Error      string         `json:"error,omitempty"`

	// message_chunk
	Content string `json:"content,omitempty"`

	// workflow events
	NodeID   string         `json:"node_id,omitempty"`
	Output   any            `json:"output,omitempty"`
	Outputs  map[string]any `json:"outputs,omitempty"`
	Progress float64        `json:"progress,omitempty"`

	Raw map[string]any `json:"-"`
}

// Decode parses one payload. The payload must be a JSON object.
//
// Only the fields belonging to the event's type are read. Fields outside that
// set are ignored whatever their JSON type, and a field of the wrong type is
// left at its zero value instead of rejecting the event.
func Decode(payload []byte) (*Event, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("payload is null")
	}

	ev := &Event{Type: EventType(typeOf(raw)), Raw: raw}
	f := fields(raw)

	switch ev.Type {
	case EventStatus:
		// older servers put the text in status
		ev.Message = f.str("message")
		if ev.Message == "" {
			ev.Message = f.str("status")
		}
	case EventIteration:
		ev.Current, ev.Max = f.int("current"), f.int("max")
	case EventIterationLimit:
		ev.Current, ev.Max = f.int("current"), f.int("max")
		ev.Message = f.str("message")
	case EventTaskList:
		ev.Tasks = f.tasks("tasks")
	case EventTaskUpdate:
		ev.TaskID = f.id("task_id")
		ev.TaskStatus = f.str("status")
	case EventToolApprovalRequest:
		ev.ApprovalID = f.str("approval_id")
		ev.Tool = f.str("tool")
		ev.Args = f.obj("args")
		ev.Index, ev.Total = f.int("index"), f.int("total")
	case EventToolApproved, EventToolAutoApproved, EventToolRejected:
		ev.ApprovalID = f.str("approval_id")
		ev.Tool = f.str("tool")
	case EventToolStart:
		ev.Tool = f.str("tool")
		ev.Args = f.obj("args")
		ev.Index, ev.Total = f.int("index"), f.int("total")
	case EventToolComplete:
		ev.Tool = f.str("tool")
		ev.Result = raw["result"]
		ev.DurationMs = f.num("duration_ms")
	case EventToolError:
		ev.Tool = f.str("tool")
		ev.Error = f.str("error")
	case EventMessageChunk:
		ev.Content = f.str("content")
	case EventError:
		ev.Message = f.str("message")
		ev.Error = f.str("error")
	case EventNodeStart:
		ev.NodeID = f.str("node_id")
	case EventNodeComplete:
		ev.NodeID = f.str("node_id")
		ev.Output = raw["output"]
	case EventNodeError:
		ev.NodeID = f.str("node_id")
		ev.Error = f.str("error")
		ev.Message = f.str("message")
	case EventProgress:
		ev.Progress = f.num("progress")
	case EventLog:
		ev.Message = f.str("message")
	case EventComplete:
		ev.Outputs = f.obj("outputs")
	}
	return ev, nil
}

// fields reads typed values out of a decoded payload
type fields map[string]any

func (f fields) str(key string) string {
	s, _ := f[key].(string)
	return s
}

func (f fields) num(key string) float64 {
	n, _ := f[key].(float64)
	return n
}

func (f fields) int(key string) int {
	return int(f.num(key))
}

func (f fields) obj(key string) map[string]any {
	m, _ := f[key].(map[string]any)
	return m
}

func (f fields) id(key string) ID {
	switch v := f[key].(type) {
	case string:
		return ID(v)
	case float64:
		return ID(strconv.FormatFloat(v, 'f', -1, 64))
	}
	return ""
}

func (f fields) tasks(key string) []Task {
	items, _ := f[key].([]any)
	tasks := make([]Task, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		t := fields(m)
		tasks = append(tasks, Task{
			ID:          t.id("id"),
			Description: t.str("description"),
			ToolName:    t.str("tool_name"),
			Status:      t.str("status"),
		})
	}
	return tasks
}

func typeOf(raw map[string]any) string {
	switch t := raw["type"].(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

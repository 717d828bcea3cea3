package session

import (
	"time"
)

// Status represents the state of an execution session
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// IsTerminal reports whether no transport may be open in this status
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

// IsActive reports whether the session may hold a transport and a pending approval
func (s Status) IsActive() bool {
	return s == StatusRunning || s == StatusPaused
}

// Mode selects which event ends a session
type Mode string

const (
	// ModeAgent is a conversational turn; done completes it
	ModeAgent Mode = "agent"
	// ModeWorkflow is a graph run; only complete completes it
	ModeWorkflow Mode = "workflow"
)

// ToolStatus is the lifecycle state of one tool invocation
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolExecuting ToolStatus = "executing"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

// RejectedResult is the result recorded on a tool the user rejected
const RejectedResult = "Rejected by user"

// ToolRecord tracks one tool invocation attempt.
//
// Records are correlated across events by tool name and expected prior
// status, not by ID: two in-flight calls to the same tool are
// indistinguishable and will be misattributed.
type ToolRecord struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
	Status    ToolStatus     `json:"status"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  float64        `json:"duration,omitempty"` // milliseconds
	Timestamp time.Time      `json:"timestamp"`
	Index     int            `json:"index,omitempty"`
	Total     int            `json:"total,omitempty"`
}

// TaskItem is one step of a server-supplied plan
type TaskItem struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	ToolName    string `json:"tool_name"`
	Status      string `json:"status"`
}

// PendingApproval is the single outstanding approval gate
type PendingApproval struct {
	ApprovalID string         `json:"approval_id"`
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args,omitempty"`
	Index      int            `json:"index,omitempty"`
	Total      int            `json:"total,omitempty"`
}

// Iteration holds advisory agent loop counters
type Iteration struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// NoticeLevel grades a user-facing notice
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a non-fatal message surfaced to the user
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	At      time.Time   `json:"at"`
}

// Message is a folded assistant turn kept in history
type Message struct {
	ID          string       `json:"id"`
	ExecutionID string       `json:"execution_id"`
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Tools       []ToolRecord `json:"tools,omitempty"`
	Tasks       []TaskItem   `json:"tasks,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// CreatedObject is an id returned by a mutating tool
type CreatedObject struct {
	Tool string `json:"tool"`
	Key  string `json:"key"`
	ID   string `json:"id"`
}

// ControlCommand is a client-issued control operation
type ControlCommand string

const (
	CommandPause  ControlCommand = "pause"
	CommandResume ControlCommand = "resume"
	CommandStop   ControlCommand = "stop"
)

// ControlAck records an optimistic write that no stream event has confirmed yet
type ControlAck struct {
	Command  ControlCommand `json:"command"`
	State    string         `json:"state"` // always "pending-ack"
	IssuedAt time.Time      `json:"issued_at"`
}

// Session is the client-side record of one workflow run or agent turn.
// Values are never mutated in place once published; see Clone.
type Session struct {
	ExecutionID string `json:"execution_id,omitempty"`
	TargetID    string `json:"target_id,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	Mode        Mode   `json:"mode"`
	Status      Status `json:"status"`

	// AuthoritativeStatus is the last status set by start or a stream event
	AuthoritativeStatus Status      `json:"authoritative_status"`
	PendingControl      *ControlAck `json:"pending_control,omitempty"`

	CurrentNodeID string         `json:"current_node_id,omitempty"`
	CurrentTool   string         `json:"current_tool,omitempty"`
	Progress      float64        `json:"progress"`
	Logs          []string       `json:"logs"`
	Outputs       map[string]any `json:"outputs"`
	Error         string         `json:"error,omitempty"`

	StatusMessage string    `json:"status_message,omitempty"`
	Iteration     Iteration `json:"iteration"`
	Notices       []Notice  `json:"notices,omitempty"`

	Tasks           []TaskItem       `json:"tasks,omitempty"`
	PendingApproval *PendingApproval `json:"pending_approval,omitempty"`
	Tools           []ToolRecord     `json:"tools,omitempty"`
	StreamText      string           `json:"stream_text,omitempty"`
	Preview         string           `json:"preview,omitempty"`

	History        []Message       `json:"history,omitempty"`
	CreatedObjects []CreatedObject `json:"created_objects,omitempty"`

	StartedAt time.Time `json:"started_at,omitempty"`
	EndedAt   time.Time `json:"ended_at,omitempty"`

	// Seq numbers tool records within the session
	Seq int `json:"seq"`
}

// NewIdle returns the session shown before anything has started
func NewIdle(mode Mode) Session {
	if mode == "" {
		mode = ModeAgent
	}
	return Session{
		Mode:                mode,
		Status:              StatusIdle,
		AuthoritativeStatus: StatusIdle,
		Logs:                []string{},
		Outputs:             map[string]any{},
	}
}

// Diverged reports whether an optimistic control write is awaiting confirmation
func (s *Session) Diverged() bool {
	return s.PendingControl != nil
}

// Clone returns a copy that shares no mutable containers with s.
// Payload values (args, results, outputs) are treated as immutable.
func (s Session) Clone() Session {
	c := s
	c.Logs = append([]string(nil), s.Logs...)
	if c.Logs == nil {
		c.Logs = []string{}
	}
	c.Outputs = make(map[string]any, len(s.Outputs))
	for k, v := range s.Outputs {
		c.Outputs[k] = v
	}
	c.Notices = append([]Notice(nil), s.Notices...)
	c.Tasks = append([]TaskItem(nil), s.Tasks...)
	c.Tools = append([]ToolRecord(nil), s.Tools...)
	c.History = append([]Message(nil), s.History...)
	c.CreatedObjects = append([]CreatedObject(nil), s.CreatedObjects...)
	if s.PendingApproval != nil {
		pa := *s.PendingApproval
		c.PendingApproval = &pa
	}
	if s.PendingControl != nil {
		pc := *s.PendingControl
		c.PendingControl = &pc
	}
	return c
}

// Summary is a lightweight view of a session
type Summary struct {
	ExecutionID     string    `json:"execution_id"`
	TargetID        string    `json:"target_id"`
	Mode            Mode      `json:"mode"`
	Status          Status    `json:"status"`
	Progress        float64   `json:"progress"`
	CurrentNodeID   string    `json:"current_node_id,omitempty"`
	PendingApproval string    `json:"pending_approval,omitempty"`
	ToolCount       int       `json:"tool_count"`
	MessageCount    int       `json:"message_count"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at,omitempty"`
}

// ToSummary converts a Session to Summary
func (s *Session) ToSummary() *Summary {
	summary := &Summary{
		ExecutionID:   s.ExecutionID,
		TargetID:      s.TargetID,
		Mode:          s.Mode,
		Status:        s.Status,
		Progress:      s.Progress,
		CurrentNodeID: s.CurrentNodeID,
		ToolCount:     len(s.Tools),
		MessageCount:  len(s.History),
		Error:         s.Error,
		StartedAt:     s.StartedAt,
	}
	if s.PendingApproval != nil {
		summary.PendingApproval = s.PendingApproval.ApprovalID
	}
	return summary
}

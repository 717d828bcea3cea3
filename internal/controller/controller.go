// Package controller drives one execution session: it issues control calls,
// owns the streaming transport, and applies decoded events to the session
// store.
//
// controller.go - public operations (Start, Pause, Resume, Stop, Approve)
// stream.go     - transport lifecycle and the event loop
//
// Control calls run on the caller's goroutine and race the event stream.
// Their optimistic writes and the reducer's writes go through the same store
// mutex, so the later write wins. A control write also sets a pending-ack
// overlay that a confirming stream event clears.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HyphaGroup/execstream/internal/control"
	"github.com/HyphaGroup/execstream/internal/history"
	"github.com/HyphaGroup/execstream/internal/logger"
	"github.com/HyphaGroup/execstream/internal/notify"
	"github.com/HyphaGroup/execstream/internal/session"
	"github.com/HyphaGroup/execstream/internal/transport"
)

var (
	// ErrInvalidTransition is returned when an operation is not legal in the current status
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrNoPendingApproval is returned by Approve when there is nothing to answer
	ErrNoPendingApproval = errors.New("no pending approval")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("controller closed")
)

// DefaultRefreshTimeout bounds one RefreshFunc call
const DefaultRefreshTimeout = 10 * time.Second

// RefreshFunc is called after a mutating tool completes so views can refresh.
// It runs on the event loop; ctx expires after the refresh timeout.
type RefreshFunc func(ctx context.Context, tool string, result any) error

// ControlAPI is the request/response side of the protocol
type ControlAPI interface {
	CreateExecution(ctx context.Context, req control.CreateRequest) (string, error)
	Pause(ctx context.Context, executionID string) error
	Resume(ctx context.Context, executionID string) error
	Stop(ctx context.Context, executionID string) error
	RespondApproval(ctx context.Context, executionID, approvalID string, approved bool) error
}

// HistorySink persists folded messages and session outcomes
type HistorySink interface {
	SaveMessage(ctx context.Context, msg *session.Message) error
	RecordExecution(ctx context.Context, e history.Execution) error
}

// Options configures a Controller
type Options struct {
	Control ControlAPI
	Channel transport.Channel

	// Mode is used when StartRequest.Mode is empty
	Mode            session.Mode
	MutatingTools   []string
	EventBufferSize int

	Notifier       notify.Notifier
	Refresh        RefreshFunc
	RefreshTimeout time.Duration
	History        HistorySink

	// Now and NewMessageID are test hooks for the reducer
	Now          func() time.Time
	NewMessageID func() string
}

// StartRequest describes a new execution
type StartRequest struct {
	TargetID  string         `json:"target_id"`
	ProjectID string         `json:"project_id,omitempty"`
	Mode      session.Mode   `json:"mode,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
}

// Controller owns one session at a time
type Controller struct {
	control        ControlAPI
	channel        transport.Channel
	mode           session.Mode
	notifier       notify.Notifier
	refresh        RefreshFunc
	refreshTimeout time.Duration
	history        HistorySink
	now            func() time.Time

	store    *session.Store
	mutating atomic.Pointer[map[string]struct{}]

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex // guards stream, target and closed
	stream *stream
	target transport.Target
	closed bool
}

// New creates a Controller holding an idle session
func New(opts Options) (*Controller, error) {
	if opts.Control == nil {
		return nil, fmt.Errorf("control client is required")
	}
	if opts.Channel == nil {
		return nil, fmt.Errorf("transport channel is required")
	}
	mode := opts.Mode
	if mode == "" {
		mode = session.ModeAgent
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Log{}
	}
	refreshTimeout := opts.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = DefaultRefreshTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		control:        opts.Control,
		channel:        opts.Channel,
		mode:           mode,
		notifier:       notifier,
		refresh:        opts.Refresh,
		refreshTimeout: refreshTimeout,
		history:        opts.History,
		now:            now,
		ctx:            ctx,
		cancel:         cancel,
	}

	tools := opts.MutatingTools
	if tools == nil {
		tools = session.DefaultMutatingTools
	}
	c.SetMutatingTools(tools)

	reducer := &session.Reducer{
		Now:          opts.Now,
		NewMessageID: opts.NewMessageID,
		IsMutating:   c.isMutating,
	}
	c.store = session.NewStore(reducer, mode, opts.EventBufferSize)
	return c, nil
}

// SetMutatingTools replaces the set of tools that trigger a refresh.
// Safe to call while a stream is running.
func (c *Controller) SetMutatingTools(tools []string) {
	set := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		set[t] = struct{}{}
	}
	c.mutating.Store(&set)
}

func (c *Controller) isMutating(tool string) bool {
	set := c.mutating.Load()
	if set == nil {
		return false
	}
	_, ok := (*set)[tool]
	return ok
}

// Snapshot returns the current session
func (c *Controller) Snapshot() session.Session {
	return c.store.Snapshot()
}

// Subscribe streams every new session state; call cancel when done
func (c *Controller) Subscribe(buffer int) (<-chan session.Session, func()) {
	return c.store.Subscribe(buffer)
}

// Events returns applied events after sinceIndex (-1 for all buffered)
func (c *Controller) Events(sinceIndex int) ([]*session.BufferedEvent, error) {
	return c.store.Events(sinceIndex)
}

// BufferStats reports on the applied-event buffer
func (c *Controller) BufferStats() session.BufferStats {
	return c.store.BufferStats()
}

// Start creates an execution and opens its stream.
// Any current session is superseded, whatever its status.
func (c *Controller) Start(ctx context.Context, req StartRequest) (string, error) {
	if c.isClosed() {
		return "", ErrClosed
	}
	if req.TargetID == "" {
		return "", fmt.Errorf("target_id is required")
	}
	mode := req.Mode
	if mode == "" {
		mode = c.mode
	}

	// The config is sent again as the request-stream body
	if _, err := json.Marshal(req.Config); err != nil {
		return "", fmt.Errorf("encoding execution config: %w", err)
	}

	executionID, err := c.control.CreateExecution(ctx, control.CreateRequest{
		TargetID:  req.TargetID,
		ProjectID: req.ProjectID,
		Config:    req.Config,
	})
	if err != nil {
		c.notifyFailure(ctx, "start", err)
		return "", err
	}

	next := session.NewIdle(mode)
	next.ExecutionID = executionID
	next.TargetID = req.TargetID
	next.ProjectID = req.ProjectID
	next.Status = session.StatusRunning
	next.AuthoritativeStatus = session.StatusRunning
	next.StartedAt = c.now()

	body, err := json.Marshal(struct {
		ExecutionID string `json:"execution_id"`
		StartRequest
	}{executionID, req})
	if err != nil {
		return "", fmt.Errorf("encoding stream request: %w", err)
	}
	target := transport.Target{ExecutionID: executionID, Body: body}

	// Close the old transport before the new session becomes current
	c.mu.Lock()
	c.stopStreamLocked()
	gen := c.store.Replace(next)
	c.target = target
	c.startStreamLocked(gen, target)
	c.mu.Unlock()

	logger.WithContext(logger.WithExecution(ctx, executionID, req.TargetID)).Info("execution started", "mode", string(mode))
	return executionID, nil
}

// Pause asks the server to pause. Legal only while running.
func (c *Controller) Pause(ctx context.Context) error {
	s, gen := c.store.Current()
	if s.Status != session.StatusRunning {
		return fmt.Errorf("pause from %s: %w", s.Status, ErrInvalidTransition)
	}
	if err := c.control.Pause(ctx, s.ExecutionID); err != nil {
		c.notifyFailure(ctx, "pause", err)
		return err
	}

	c.store.Update(gen, func(s *session.Session) {
		c.optimistic(s, session.CommandPause, session.StatusPaused, "Execution paused")
	})
	return nil
}

// Resume asks the server to resume and reopens the stream. Legal only while paused.
func (c *Controller) Resume(ctx context.Context) error {
	s, gen := c.store.Current()
	if s.Status != session.StatusPaused {
		return fmt.Errorf("resume from %s: %w", s.Status, ErrInvalidTransition)
	}
	if err := c.control.Resume(ctx, s.ExecutionID); err != nil {
		c.notifyFailure(ctx, "resume", err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.store.Update(gen, func(s *session.Session) {
		c.optimistic(s, session.CommandResume, session.StatusRunning, "Execution resumed")
	}) {
		return nil
	}
	// The previous transport must be gone before the new one opens,
	// or events would be delivered twice
	c.stopStreamLocked()
	target := c.target
	if target.ExecutionID != s.ExecutionID {
		target = transport.Target{ExecutionID: s.ExecutionID}
	}
	c.startStreamLocked(gen, target)
	return nil
}

// Stop asks the server to stop and closes the stream. Legal while running or paused.
func (c *Controller) Stop(ctx context.Context) error {
	s, gen := c.store.Current()
	if !s.Status.IsActive() {
		return fmt.Errorf("stop from %s: %w", s.Status, ErrInvalidTransition)
	}
	if err := c.control.Stop(ctx, s.ExecutionID); err != nil {
		c.notifyFailure(ctx, "stop", err)
		return err
	}

	applied := c.store.Update(gen, func(s *session.Session) {
		c.optimistic(s, session.CommandStop, session.StatusStopped, "Execution stopped")
		s.PendingApproval = nil
		s.EndedAt = c.now()
	})

	c.mu.Lock()
	if c.store.Generation() == gen {
		c.stopStreamLocked()
	}
	c.mu.Unlock()

	if applied {
		c.recordOutcome(c.store.Snapshot())
	}
	return nil
}

// Approve answers an approval gate. An empty approvalID answers the pending one.
// The session changes only when the stream reports the outcome.
func (c *Controller) Approve(ctx context.Context, approvalID string, approved bool) error {
	s := c.store.Snapshot()
	if !s.Status.IsActive() {
		return fmt.Errorf("approve from %s: %w", s.Status, ErrInvalidTransition)
	}
	if approvalID == "" {
		if s.PendingApproval == nil {
			return ErrNoPendingApproval
		}
		approvalID = s.PendingApproval.ApprovalID
	}
	if err := c.control.RespondApproval(ctx, s.ExecutionID, approvalID, approved); err != nil {
		c.notifyFailure(ctx, "approve", err)
		return err
	}
	logger.WithContext(logger.WithExecution(ctx, s.ExecutionID, s.TargetID)).Info("approval answered",
		"approval_id", approvalID, "approved", approved)
	return nil
}

// Close tears down the stream. The session keeps its last state.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	c.stopStreamLocked()
	return nil
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// optimistic applies a successful control call ahead of stream confirmation
func (c *Controller) optimistic(s *session.Session, cmd session.ControlCommand, status session.Status, line string) {
	s.Status = status
	s.Logs = append(s.Logs, line)
	s.PendingControl = &session.ControlAck{
		Command:  cmd,
		State:    "pending-ack",
		IssuedAt: c.now(),
	}
}

// notifyFailure reports a failed control call. Local state is left as is.
func (c *Controller) notifyFailure(ctx context.Context, op string, err error) {
	s := c.store.Snapshot()
	logger.WithContext(logger.WithExecution(ctx, s.ExecutionID, s.TargetID)).Warn("control call failed",
		"operation", op, "error", err)
	c.notifier.Notify(ctx, session.Notice{
		Level:   session.NoticeError,
		Message: control.SanitizeError(err, op).Error(),
		At:      c.now(),
	})
}

// recordOutcome stores a terminal session in history
func (c *Controller) recordOutcome(s session.Session) {
	if c.history == nil || s.ExecutionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.history.RecordExecution(ctx, history.Execution{
		ExecutionID: s.ExecutionID,
		TargetID:    s.TargetID,
		ProjectID:   s.ProjectID,
		Mode:        s.Mode,
		Status:      s.Status,
		Error:       s.Error,
		StartedAt:   s.StartedAt,
		EndedAt:     s.EndedAt,
	})
	if err != nil {
		logger.Slog().Warn("failed to record execution outcome", "execution_id", s.ExecutionID, "error", err)
	}
}

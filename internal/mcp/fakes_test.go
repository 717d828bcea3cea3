package mcp

import (
	"context"
	"errors"
	"sync"

	"github.com/HyphaGroup/execstream/internal/controller"
	"github.com/HyphaGroup/execstream/internal/history"
	"github.com/HyphaGroup/execstream/internal/session"
	"github.com/HyphaGroup/execstream/internal/wire"
)

type fakeController struct {
	mu       sync.Mutex
	snap     session.Session
	events   []*session.BufferedEvent
	started  []controller.StartRequest
	calls    []string
	approved []bool
	err      error
}

func newFakeController() *fakeController {
	return &fakeController{snap: session.NewIdle(session.ModeAgent)}
}

func (f *fakeController) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeController) Start(ctx context.Context, req controller.StartRequest) (string, error) {
	if err := f.record("start"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, req)
	f.snap.ExecutionID = "exec-1"
	f.snap.TargetID = req.TargetID
	f.snap.Status = session.StatusRunning
	return "exec-1", nil
}

func (f *fakeController) Pause(ctx context.Context) error {
	if err := f.record("pause"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap.Status = session.StatusPaused
	f.snap.PendingControl = &session.ControlAck{Command: session.CommandPause, State: "pending-ack"}
	return nil
}

func (f *fakeController) Resume(ctx context.Context) error { return f.record("resume") }
func (f *fakeController) Stop(ctx context.Context) error   { return f.record("stop") }

func (f *fakeController) Approve(ctx context.Context, approvalID string, approved bool) error {
	if err := f.record("approve:" + approvalID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approved = append(f.approved, approved)
	return nil
}

func (f *fakeController) Snapshot() session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap.Clone()
}

func (f *fakeController) Events(sinceIndex int) ([]*session.BufferedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sinceIndex < -1 {
		return nil, errors.New("events before index have been purged")
	}
	var out []*session.BufferedEvent
	for _, e := range f.events {
		if e.Index > sinceIndex {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeController) BufferStats() session.BufferStats {
	return session.BufferStats{DroppedEvents: 3}
}

func (f *fakeController) addEvents(types ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, typ := range types {
		f.events = append(f.events, &session.BufferedEvent{Index: len(f.events), Event: &wire.Event{Type: wire.EventType(typ)}})
	}
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeHistory struct {
	msgs   []session.Message
	execs  []history.Execution
	filter history.Filter
}

func (h *fakeHistory) List(ctx context.Context, f history.Filter) ([]session.Message, error) {
	h.filter = f
	return h.msgs, nil
}

func (h *fakeHistory) ListExecutions(ctx context.Context, limit int) ([]history.Execution, error) {
	return h.execs, nil
}

package controller

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/HyphaGroup/execstream/internal/control"
	"github.com/HyphaGroup/execstream/internal/history"
	"github.com/HyphaGroup/execstream/internal/notify"
	"github.com/HyphaGroup/execstream/internal/session"
	"github.com/HyphaGroup/execstream/internal/transport"
)

// fakeControl records control calls; errs and gates are keyed by command
type fakeControl struct {
	mu       sync.Mutex
	calls    []string
	approval []string
	nextID   int
	errs     map[string]error
	gates    map[string]chan struct{}
}

func newFakeControl() *fakeControl {
	return &fakeControl{errs: map[string]error{}, gates: map[string]chan struct{}{}}
}

func (f *fakeControl) do(ctx context.Context, cmd string) error {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	err := f.errs[cmd]
	gate := f.gates[cmd]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeControl) CreateExecution(ctx context.Context, req control.CreateRequest) (string, error) {
	if err := f.do(ctx, "create"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return fmt.Sprintf("exec-%d", f.nextID), nil
}

func (f *fakeControl) Pause(ctx context.Context, id string) error  { return f.do(ctx, "pause") }
func (f *fakeControl) Resume(ctx context.Context, id string) error { return f.do(ctx, "resume") }
func (f *fakeControl) Stop(ctx context.Context, id string) error   { return f.do(ctx, "stop") }

func (f *fakeControl) RespondApproval(ctx context.Context, executionID, approvalID string, approved bool) error {
	f.mu.Lock()
	f.approval = append(f.approval, fmt.Sprintf("%s:%s:%v", executionID, approvalID, approved))
	f.mu.Unlock()
	return f.do(ctx, "approve")
}

func (f *fakeControl) setErr(cmd string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[cmd] = err
}

func (f *fakeControl) setGate(cmd string, gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gates[cmd] = gate
}

func (f *fakeControl) Approvals() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.approval...)
}

func (f *fakeControl) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// pipeStream is one transport opened by pipeChannel
type pipeStream struct {
	target transport.Target
	w      *io.PipeWriter
	closed chan struct{}
	once   sync.Once
}

// Send writes raw stream text; errors after close are ignored
func (p *pipeStream) Send(text string) {
	_, _ = io.WriteString(p.w, text)
}

// End closes the stream from the server side
func (p *pipeStream) End() {
	_ = p.w.Close()
}

// Fail breaks the stream with a read error
func (p *pipeStream) Fail(err error) {
	_ = p.w.CloseWithError(err)
}

func (p *pipeStream) IsClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

type pipeReader struct {
	*io.PipeReader
	s *pipeStream
}

func (r pipeReader) Close() error {
	r.s.once.Do(func() { close(r.s.closed) })
	return r.PipeReader.Close()
}

// pipeChannel hands out in-memory streams the test writes into
type pipeChannel struct {
	mu      sync.Mutex
	openErr error
	streams []*pipeStream
	opened  chan *pipeStream
}

func newPipeChannel() *pipeChannel {
	return &pipeChannel{opened: make(chan *pipeStream, 16)}
}

func (c *pipeChannel) Name() string { return "pipe" }

func (c *pipeChannel) Open(ctx context.Context, target transport.Target) (io.ReadCloser, error) {
	c.mu.Lock()
	err := c.openErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	r, w := io.Pipe()
	s := &pipeStream{target: target, w: w, closed: make(chan struct{})}
	c.mu.Lock()
	c.streams = append(c.streams, s)
	c.mu.Unlock()
	c.opened <- s
	return pipeReader{PipeReader: r, s: s}, nil
}

func (c *pipeChannel) next(t *testing.T) *pipeStream {
	t.Helper()
	select {
	case s := <-c.opened:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport open")
		return nil
	}
}

func (c *pipeChannel) setOpenErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openErr = err
}

func (c *pipeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

// memoryHistory is an in-memory HistorySink
type memoryHistory struct {
	mu         sync.Mutex
	messages   []session.Message
	executions []history.Execution
}

func (m *memoryHistory) SaveMessage(_ context.Context, msg *session.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *memoryHistory) RecordExecution(_ context.Context, e history.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = append(m.executions, e)
	return nil
}

func (m *memoryHistory) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages), len(m.executions)
}

type harness struct {
	c        *Controller
	control  *fakeControl
	channel  *pipeChannel
	notices  *notify.Recorder
	history  *memoryHistory
	refreshs chan string
}

func newHarness(t *testing.T, mode session.Mode) *harness {
	t.Helper()
	h := &harness{
		control:  newFakeControl(),
		channel:  newPipeChannel(),
		notices:  &notify.Recorder{},
		history:  &memoryHistory{},
		refreshs: make(chan string, 16),
	}
	c, err := New(Options{
		Control:  h.control,
		Channel:  h.channel,
		Mode:     mode,
		Notifier: h.notices,
		History:  h.history,
		Refresh: func(ctx context.Context, tool string, result any) error {
			if _, ok := ctx.Deadline(); !ok {
				return fmt.Errorf("refresh context has no deadline")
			}
			h.refreshs <- tool
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	h.c = c
	return h
}

// start begins an execution and returns its transport
func (h *harness) start(t *testing.T) *pipeStream {
	t.Helper()
	if _, err := h.c.Start(context.Background(), StartRequest{TargetID: "wf-1"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return h.channel.next(t)
}

// waitFor polls the session until cond holds
func waitFor(t *testing.T, c *Controller, what string, cond func(session.Session) bool) session.Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := c.Snapshot()
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; session = %+v", what, s)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitClosed(t *testing.T, s *pipeStream) {
	t.Helper()
	select {
	case <-s.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("transport was not closed")
	}
}

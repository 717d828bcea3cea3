package controller

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/HyphaGroup/execstream/internal/logger"
	"github.com/HyphaGroup/execstream/internal/metrics"
	"github.com/HyphaGroup/execstream/internal/session"
	"github.com/HyphaGroup/execstream/internal/transport"
	"github.com/HyphaGroup/execstream/internal/wire"
)

const readChunkSize = 32 * 1024

// errUnexpectedEOF is recorded when a running stream ends without a terminal event
var errUnexpectedEOF = errors.New("stream ended unexpectedly")

// stream is one open transport and the goroutine reading it
type stream struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	reader io.ReadCloser
	closed bool
}

// attach records the open reader, closing it at once if the stream was already stopped
func (s *stream) attach(rc io.ReadCloser) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = rc.Close()
		return false
	}
	s.reader = rc
	return true
}

func (s *stream) close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.reader != nil {
		_ = s.reader.Close()
	}
}

// startStreamLocked launches the read loop for generation gen. c.mu must be held.
func (c *Controller) startStreamLocked(gen uint64, target transport.Target) {
	if c.closed {
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	snap := c.store.Snapshot()
	ctx = logger.WithExecution(ctx, target.ExecutionID, snap.TargetID)

	h := &stream{cancel: cancel, done: make(chan struct{})}
	c.stream = h
	go c.run(ctx, gen, target, h)
}

// stopStreamLocked closes the current transport and waits for its goroutine.
// c.mu must be held. Must not be called from the stream goroutine.
func (c *Controller) stopStreamLocked() {
	if c.stream == nil {
		return
	}
	c.stream.close()
	<-c.stream.done
	c.stream = nil
}

// run opens the transport and applies events until the stream ends
func (c *Controller) run(ctx context.Context, gen uint64, target transport.Target, h *stream) {
	defer close(h.done)
	log := logger.WithContext(ctx)

	rc, err := c.channel.Open(ctx, target)
	if err != nil {
		if ctx.Err() == nil {
			c.fail(ctx, gen, err)
		}
		return
	}
	if !h.attach(rc) {
		return
	}
	defer func() { _ = rc.Close() }()
	log.Debug("stream opened", "backend", c.channel.Name())

	framer := wire.NewFramer()
	buf := make([]byte, readChunkSize)
	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			for _, ev := range framer.Feed(buf[:n]) {
				if c.apply(ctx, gen, ev) {
					log.Debug("stream closed after terminal event", "type", string(ev.Type))
					return
				}
			}
		}
		if rerr == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if errors.Is(rerr, io.EOF) {
			for _, ev := range framer.Flush() {
				if c.apply(ctx, gen, ev) {
					return
				}
			}
			c.endOfStream(ctx, gen, framer.SawSentinel())
			return
		}
		metrics.RecordTransportError(c.channel.Name())
		c.fail(ctx, gen, rerr)
		return
	}
}

// apply dispatches one event and carries out its effects.
// It returns true when the stream should close.
func (c *Controller) apply(ctx context.Context, gen uint64, ev *wire.Event) bool {
	effects, ok := c.store.Dispatch(gen, ev)
	if !ok {
		// superseded by a newer session
		return true
	}

	closeStream := false
	for _, e := range effects {
		switch e.Kind {
		case session.EffectCloseStream:
			closeStream = true
		case session.EffectNotify:
			c.notifier.Notify(ctx, *e.Notice)
		case session.EffectRefresh:
			c.runRefresh(ctx, e.Tool, e.Result)
		case session.EffectPersist:
			c.persist(ctx, e.Message)
		case session.EffectToolSettled:
			metrics.RecordToolRecord(e.Tool, string(e.Status))
		}
	}

	if closeStream {
		if s, cur := c.store.Current(); cur == gen && s.Status.IsTerminal() {
			c.recordOutcome(s)
		}
	}
	return closeStream
}

// runRefresh calls the refresh callback with a bounded context
func (c *Controller) runRefresh(ctx context.Context, tool string, result any) {
	if c.refresh == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()
	if err := c.refresh(rctx, tool, result); err != nil {
		logger.WithContext(ctx).Warn("refresh callback failed", "tool", tool, "error", err)
	}
}

func (c *Controller) persist(ctx context.Context, msg *session.Message) {
	if c.history == nil || msg == nil {
		return
	}
	if err := c.history.SaveMessage(ctx, msg); err != nil {
		logger.WithContext(ctx).Warn("failed to persist message", "message_id", msg.ID, "error", err)
	}
}

// fail moves the session to failed after a transport error. There is no retry.
func (c *Controller) fail(ctx context.Context, gen uint64, err error) {
	msg := err.Error()
	applied := c.store.Update(gen, func(s *session.Session) {
		if s.Status.IsTerminal() {
			return
		}
		s.Status = session.StatusFailed
		s.AuthoritativeStatus = session.StatusFailed
		s.PendingControl = nil
		s.PendingApproval = nil
		s.Error = msg
		s.EndedAt = c.now()
	})
	if !applied {
		return
	}
	logger.WithContext(ctx).Error("stream failed", "error", err)

	s := c.store.Snapshot()
	if s.Status != session.StatusFailed || s.Error != msg {
		return
	}
	c.notifier.Notify(ctx, session.Notice{Level: session.NoticeError, Message: msg, At: c.now()})
	c.recordOutcome(s)
}

// endOfStream handles a clean close that arrived before any terminal event.
// A paused session closes quietly; a running one is failed unless the server
// sent the end sentinel, in which case it is complete.
func (c *Controller) endOfStream(ctx context.Context, gen uint64, sawSentinel bool) {
	s, cur := c.store.Current()
	if cur != gen || s.Status != session.StatusRunning {
		logger.WithContext(ctx).Debug("stream ended", "status", string(s.Status))
		return
	}
	if !sawSentinel {
		c.fail(ctx, gen, errUnexpectedEOF)
		return
	}

	applied := c.store.Update(gen, func(s *session.Session) {
		if s.Status != session.StatusRunning {
			return
		}
		s.Status = session.StatusCompleted
		s.AuthoritativeStatus = session.StatusCompleted
		s.PendingControl = nil
		s.PendingApproval = nil
		s.EndedAt = c.now()
	})
	if applied {
		logger.WithContext(ctx).Info("stream ended with sentinel before complete")
		if s := c.store.Snapshot(); s.Status == session.StatusCompleted {
			c.recordOutcome(s)
		}
	}
}

// Package notify delivers user-facing notices.
//
// A Notifier is injected into the controller; nothing registers globally.
// The presentation layer supplies its own implementation (toast, banner,
// terminal line) and the helpers here cover logging, fan-out and tests.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/HyphaGroup/execstream/internal/logger"
	"github.com/HyphaGroup/execstream/internal/session"
)

// Notifier surfaces a notice to the user
type Notifier interface {
	Notify(ctx context.Context, n session.Notice)
}

// Func adapts a function to Notifier
type Func func(ctx context.Context, n session.Notice)

// Notify calls f
func (f Func) Notify(ctx context.Context, n session.Notice) { f(ctx, n) }

// Discard drops every notice
var Discard Notifier = Func(func(context.Context, session.Notice) {})

// Log writes notices to the structured logger
type Log struct {
	Logger *slog.Logger
}

// Notify logs n at the level matching its severity
func (l Log) Notify(ctx context.Context, n session.Notice) {
	log := l.Logger
	if log == nil {
		log = logger.Slog()
	}
	attrs := []any{"notice", true}
	if id, ok := ctx.Value(logger.ContextKeyExecutionID).(string); ok && id != "" {
		attrs = append(attrs, "execution_id", id)
	}
	switch n.Level {
	case session.NoticeError:
		log.ErrorContext(ctx, n.Message, attrs...)
	case session.NoticeWarning:
		log.WarnContext(ctx, n.Message, attrs...)
	default:
		log.InfoContext(ctx, n.Message, attrs...)
	}
}

// Multi fans a notice out to every notifier in order
type Multi []Notifier

// Notify forwards n to each notifier
func (m Multi) Notify(ctx context.Context, n session.Notice) {
	for _, x := range m {
		if x != nil {
			x.Notify(ctx, n)
		}
	}
}

// Recorder keeps every notice it receives
type Recorder struct {
	mu      sync.Mutex
	notices []session.Notice
}

// Notify records n
func (r *Recorder) Notify(_ context.Context, n session.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of the recorded notices
func (r *Recorder) Notices() []session.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Notice(nil), r.notices...)
}

// Last returns the most recent notice
func (r *Recorder) Last() (session.Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return session.Notice{}, false
	}
	return r.notices[len(r.notices)-1], true
}

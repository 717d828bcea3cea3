package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/HyphaGroup/execstream/internal/session"
)

// maxArgsWidth truncates approval arguments in prompts
const maxArgsWidth = 400

// printer renders session transitions for a terminal
type printer struct {
	mu    sync.Mutex
	out   io.Writer
	quiet bool
}

func newPrinter(out io.Writer, quiet bool) *printer {
	return &printer{out: out, quiet: quiet}
}

func (p *printer) printf(format string, v ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.out, format, v...)
}

func (p *printer) started(executionID string, mode session.Mode) {
	if p.quiet {
		return
	}
	p.printf("▶ execution %s started (%s)\n", executionID, mode)
}

// transition prints what changed between two published states.
// Intermediate states may have been skipped; only the difference is shown.
func (p *printer) transition(prev, next session.Session) {
	if p.quiet {
		return
	}
	var b strings.Builder

	if next.Status != prev.Status && !next.Status.IsTerminal() {
		fmt.Fprintf(&b, "● %s", next.Status)
		if next.PendingControl != nil {
			b.WriteString(" (awaiting server confirmation)")
		}
		b.WriteString("\n")
	} else if prev.PendingControl != nil && next.PendingControl == nil && !next.Status.IsTerminal() {
		fmt.Fprintf(&b, "● %s confirmed\n", next.Status)
	}

	if next.StatusMessage != "" && next.StatusMessage != prev.StatusMessage {
		fmt.Fprintf(&b, "  %s\n", next.StatusMessage)
	}
	if next.CurrentNodeID != "" && next.CurrentNodeID != prev.CurrentNodeID {
		fmt.Fprintf(&b, "  node %s\n", next.CurrentNodeID)
	}
	if next.Progress != prev.Progress && next.Progress > 0 {
		fmt.Fprintf(&b, "  progress %.0f%%\n", next.Progress)
	}
	if next.Iteration.Current != prev.Iteration.Current && next.Iteration.Current > 0 {
		fmt.Fprintf(&b, "  iteration %d/%d\n", next.Iteration.Current, next.Iteration.Max)
	}

	if len(next.Logs) > len(prev.Logs) {
		for _, line := range next.Logs[len(prev.Logs):] {
			fmt.Fprintf(&b, "  log: %s\n", line)
		}
	}

	if len(next.Tasks) > 0 && !sameTasks(prev.Tasks, next.Tasks) {
		b.WriteString("  plan:\n")
		for _, t := range next.Tasks {
			fmt.Fprintf(&b, "    [%s] %s\n", taskMark(t.Status), t.Description)
		}
	}

	// A shorter tool list means the turn was folded into history
	prevTools := prev.Tools
	if len(next.Tools) < len(prevTools) {
		prevTools = nil
	}
	for i, r := range next.Tools {
		if i < len(prevTools) && prevTools[i].Status == r.Status {
			continue
		}
		b.WriteString(formatTool(r))
	}

	if len(next.History) > len(prev.History) {
		for _, m := range next.History[len(prev.History):] {
			if m.Content != "" {
				fmt.Fprintf(&b, "\n%s\n\n", m.Content)
			}
		}
	}

	if b.Len() > 0 {
		p.printf("%s", b.String())
	}
}

func formatTool(r session.ToolRecord) string {
	switch r.Status {
	case session.ToolPending:
		return fmt.Sprintf("  🔧 %s waiting for approval\n", r.Tool)
	case session.ToolExecuting:
		return fmt.Sprintf("  🔧 %s running\n", r.Tool)
	case session.ToolCompleted:
		if r.Duration > 0 {
			return fmt.Sprintf("  ✓ %s (%.0fms)\n", r.Tool, r.Duration)
		}
		return fmt.Sprintf("  ✓ %s\n", r.Tool)
	case session.ToolError:
		msg := r.Error
		if msg == "" {
			if s, ok := r.Result.(string); ok {
				msg = s
			}
		}
		return fmt.Sprintf("  ✗ %s: %s\n", r.Tool, msg)
	}
	return ""
}

func taskMark(status string) string {
	switch status {
	case "completed", "done":
		return "x"
	case "in_progress", "running":
		return ">"
	case "failed", "error":
		return "!"
	default:
		return " "
	}
}

func sameTasks(a, b []session.TaskItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// prompt asks the user to answer a pending approval
func (p *printer) prompt(pa *session.PendingApproval, preview string) {
	var b strings.Builder
	fmt.Fprintf(&b, "\n? %s requests approval", pa.Tool)
	if pa.Total > 0 {
		fmt.Fprintf(&b, " (%d/%d)", pa.Index, pa.Total)
	}
	b.WriteString("\n")
	if len(pa.Args) > 0 {
		args, _ := json.Marshal(pa.Args)
		s := string(args)
		if len(s) > maxArgsWidth {
			s = s[:maxArgsWidth] + "…"
		}
		fmt.Fprintf(&b, "  args: %s\n", s)
	}
	if preview != "" {
		fmt.Fprintf(&b, "  preview:\n%s\n", indent(preview, "    "))
	}
	b.WriteString("  approve? [y/n] ")
	p.printf("%s", b.String())
}

func (p *printer) decided(tool string, approved bool, automatic bool) {
	if p.quiet {
		return
	}
	verb := "rejected"
	if approved {
		verb = "approved"
	}
	how := ""
	if automatic {
		how = " automatically"
	}
	p.printf("  %s %s%s\n", tool, verb, how)
}

// finished prints the terminal line; it is shown even when quiet
func (p *printer) finished(s session.Session) {
	switch s.Status {
	case session.StatusCompleted:
		p.printf("✅ completed\n")
		if len(s.Outputs) > 0 {
			out, _ := json.MarshalIndent(s.Outputs, "", "  ")
			p.printf("%s\n", out)
		}
	case session.StatusFailed:
		p.printf("❌ failed: %s\n", s.Error)
	case session.StatusStopped:
		p.printf("⏹ stopped\n")
	}
	for _, o := range s.CreatedObjects {
		p.printf("  created %s %s=%s\n", o.Tool, o.Key, o.ID)
	}
}

// notice implements notify.Func
func (p *printer) notice(_ context.Context, n session.Notice) {
	mark := "ℹ"
	switch n.Level {
	case session.NoticeWarning:
		mark = "⚠️"
	case session.NoticeError:
		mark = "❗"
	}
	p.printf("%s  %s\n", mark, n.Message)
}

// refresh implements controller.RefreshFunc for a terminal with nothing to reload
func (p *printer) refresh(_ context.Context, tool string, _ any) error {
	if !p.quiet {
		p.printf("  ↻ %s changed server objects\n", tool)
	}
	return nil
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

// parseAnswer reads a y/n reply; ok is false for anything else
func parseAnswer(line string) (approved, ok bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "a", "approve":
		return true, true
	case "n", "no", "r", "reject":
		return false, true
	}
	return false, false
}

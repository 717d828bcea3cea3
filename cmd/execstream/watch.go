package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HyphaGroup/execstream/internal/controller"
	"github.com/HyphaGroup/execstream/internal/logger"
	"github.com/HyphaGroup/execstream/internal/notify"
	"github.com/HyphaGroup/execstream/internal/session"
)

// pollInterval is the fallback when a subscriber missed the final state
const pollInterval = time.Second

type approvalPolicy int

const (
	askUser approvalPolicy = iota
	approveAll
	rejectAll
)

func cmdWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configDir := fs.String("config", "", "Config directory")
	target := fs.String("target", "", "Workflow or agent id to run (required)")
	project := fs.String("project", "", "Project id")
	mode := fs.String("mode", "", "Session mode: agent or workflow")
	runConfig := fs.String("run-config", "", "JSON object passed as the execution config")
	autoApprove := fs.Bool("auto-approve", false, "Approve every tool request")
	reject := fs.Bool("reject", false, "Reject every tool request")
	quiet := fs.Bool("quiet", false, "Only print approvals and the final result")
	_ = fs.Parse(args)

	if *target == "" {
		return fmt.Errorf("--target is required")
	}
	if *autoApprove && *reject {
		return fmt.Errorf("--auto-approve and --reject are mutually exclusive")
	}
	if *mode != "" && *mode != string(session.ModeAgent) && *mode != string(session.ModeWorkflow) {
		return fmt.Errorf("--mode must be agent or workflow, got %q", *mode)
	}
	var execConfig map[string]any
	if *runConfig != "" {
		if err := json.Unmarshal([]byte(*runConfig), &execConfig); err != nil {
			return fmt.Errorf("--run-config: %w", err)
		}
	}

	policy := askUser
	switch {
	case *autoApprove:
		policy = approveAll
	case *reject:
		policy = rejectAll
	}

	p := newPrinter(os.Stdout, *quiet)
	a, err := newApp(appOptions{
		configDir: *configDir,
		console:   os.Stderr,
		notifier:  notify.Func(p.notice),
		refresh:   p.refresh,
		mode:      *mode,
	})
	if err != nil {
		return err
	}
	defer a.Close()
	logger.SetQuiet(*quiet)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.startBackground(ctx)

	// Subscribe before Start so the first running state is not missed
	updates, cancel := a.ctrl.Subscribe(256)
	defer cancel()

	executionID, err := a.ctrl.Start(ctx, controller.StartRequest{
		TargetID:  *target,
		ProjectID: *project,
		Mode:      session.Mode(*mode),
		Config:    execConfig,
	})
	if err != nil {
		return err
	}
	p.started(executionID, a.ctrl.Snapshot().Mode)

	var answers <-chan string
	if policy == askUser {
		answers = readLines(os.Stdin)
	}
	return followSession(ctx, a.ctrl, p, updates, answers, policy)
}

// sessionControl is the subset of the controller the watch loop drives
type sessionControl interface {
	Snapshot() session.Session
	Approve(ctx context.Context, approvalID string, approved bool) error
	Stop(ctx context.Context) error
}

// followSession prints updates and answers approvals until the session ends
func followSession(ctx context.Context, ctrl sessionControl, p *printer, updates <-chan session.Session, answers <-chan string, policy approvalPolicy) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	prev := session.NewIdle("")
	asked := ""

	handle := func(next session.Session) (bool, error) {
		p.transition(prev, next)
		prev = next

		if pa := next.PendingApproval; pa != nil && pa.ApprovalID != asked {
			asked = pa.ApprovalID
			switch policy {
			case approveAll, rejectAll:
				approved := policy == approveAll
				if err := ctrl.Approve(ctx, pa.ApprovalID, approved); err == nil {
					p.decided(pa.Tool, approved, true)
				}
			default:
				p.prompt(pa, next.Preview)
			}
		}
		if next.PendingApproval == nil {
			asked = ""
		}

		if next.Status.IsTerminal() {
			p.finished(next)
			if next.Status == session.StatusFailed {
				return true, exitError{code: 1}
			}
			return true, nil
		}
		return false, nil
	}

	for {
		select {
		case <-ctx.Done():
			s := ctrl.Snapshot()
			if s.Status.IsActive() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = ctrl.Stop(stopCtx)
				cancel()
				p.finished(ctrl.Snapshot())
			}
			return exitError{code: 130}

		case next, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if done, err := handle(next); done {
				return err
			}

		case <-ticker.C:
			next := ctrl.Snapshot()
			if next.Status == prev.Status && !next.Status.IsTerminal() {
				continue
			}
			if done, err := handle(next); done {
				return err
			}

		case line, ok := <-answers:
			if !ok {
				answers = nil
				continue
			}
			pending := ctrl.Snapshot().PendingApproval
			if pending == nil {
				continue
			}
			approved, valid := parseAnswer(line)
			if !valid {
				p.printf("  answer y or n: ")
				continue
			}
			err := ctrl.Approve(ctx, pending.ApprovalID, approved)
			switch {
			case errors.Is(err, controller.ErrNoPendingApproval):
			case err != nil:
				p.printf("  approval failed: %v\n", err)
			default:
				p.decided(pending.Tool, approved, false)
			}
		}
	}
}

func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/HyphaGroup/execstream/internal/config"
	"github.com/HyphaGroup/execstream/internal/history"
)

func cmdHistory(args []string) error {
	if len(args) < 1 {
		printHistoryUsage()
		return exitError{code: 1}
	}

	switch args[0] {
	case "list":
		return historyList(args[1:])
	case "prune":
		return historyPrune(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown history subcommand: %s\n\n", args[0])
		printHistoryUsage()
		return exitError{code: 1}
	}
}

func printHistoryUsage() {
	fmt.Println(`Usage: execstream history <subcommand> [options]

Subcommands:
  list     List folded messages, or recorded outcomes with --executions
  prune    Delete history older than a number of days`)
}

func openHistory(configDir string) (*history.Store, error) {
	cfg, err := config.LoadAll(configDir)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if !cfg.HistoryEnabled() {
		return nil, fmt.Errorf("history is disabled in %s", config.FileName)
	}
	return history.NewStore(cfg.History.Dir)
}

func historyList(args []string) error {
	fs := flag.NewFlagSet("history list", flag.ExitOnError)
	configDir := fs.String("config", "", "Config directory")
	executionID := fs.String("execution", "", "Only messages of this execution")
	limit := fs.Int("limit", 50, "Maximum rows")
	executions := fs.Bool("executions", false, "List recorded outcomes instead of messages")
	_ = fs.Parse(args)

	store, err := openHistory(*configDir)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	if *executions {
		rows, err := store.ListExecutions(ctx, *limit)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("No executions recorded.")
			return nil
		}
		fmt.Fprintln(w, "EXECUTION\tTARGET\tMODE\tSTATUS\tENDED\tERROR")
		for _, e := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.ExecutionID, e.TargetID, e.Mode, e.Status, e.EndedAt.Local().Format(time.DateTime), e.Error)
		}
		return nil
	}

	msgs, err := store.List(ctx, history.Filter{ExecutionID: *executionID, Limit: *limit})
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println("No messages recorded.")
		return nil
	}
	fmt.Fprintln(w, "CREATED\tEXECUTION\tTOOLS\tCONTENT")
	for _, m := range msgs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			m.CreatedAt.Local().Format(time.DateTime), m.ExecutionID, len(m.Tools), truncate(m.Content, 60))
	}
	return nil
}

func historyPrune(args []string) error {
	fs := flag.NewFlagSet("history prune", flag.ExitOnError)
	configDir := fs.String("config", "", "Config directory")
	days := fs.Int("older-than", 0, "Delete entries older than this many days (required)")
	_ = fs.Parse(args)

	if *days <= 0 {
		return fmt.Errorf("--older-than must be a positive number of days")
	}

	store, err := openHistory(*configDir)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	before := time.Now().AddDate(0, 0, -*days)
	n, err := store.Prune(context.Background(), before)
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d entries older than %s\n", n, before.Format(time.DateOnly))
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

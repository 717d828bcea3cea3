package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HyphaGroup/execstream/internal/session"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewStore_Pragmas(t *testing.T) {
	store := setupTestStore(t)

	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"busy_timeout", "5000"},
	}
	for _, tt := range tests {
		var got string
		if err := store.db.QueryRow("PRAGMA " + tt.pragma).Scan(&got); err != nil {
			t.Fatalf("PRAGMA %s: %v", tt.pragma, err)
		}
		if got != tt.want {
			t.Errorf("PRAGMA %s = %q, want %q", tt.pragma, got, tt.want)
		}
	}
}

func TestStore_SaveAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	msgs := []*session.Message{
		{ID: "m1", ExecutionID: "e1", Role: "assistant", Content: "first", CreatedAt: base},
		{ID: "m2", ExecutionID: "e1", Role: "assistant", Content: "second", CreatedAt: base.Add(time.Minute),
			Tools: []session.ToolRecord{{ID: "1-1-start", Tool: "create_document", Status: session.ToolCompleted, Result: map[string]any{"id": "doc1"}}},
			Tasks: []session.TaskItem{{ID: "1", Description: "Draft", Status: "completed"}}},
		{ID: "m3", ExecutionID: "e2", Role: "assistant", Content: "other", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, m := range msgs {
		if err := store.SaveMessage(ctx, m); err != nil {
			t.Fatalf("SaveMessage(%s) error = %v", m.ID, err)
		}
	}

	all, err := store.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 || all[0].ID != "m3" {
		t.Fatalf("List() = %d messages, first %q; want 3, m3", len(all), all[0].ID)
	}

	e1, err := store.List(ctx, Filter{ExecutionID: "e1"})
	if err != nil {
		t.Fatalf("List(e1) error = %v", err)
	}
	if len(e1) != 2 {
		t.Fatalf("List(e1) = %d, want 2", len(e1))
	}
	second := e1[0]
	if second.ID != "m2" || len(second.Tools) != 1 || len(second.Tasks) != 1 {
		t.Errorf("m2 = %+v", second)
	}
	if second.Tools[0].Tool != "create_document" || second.Tools[0].Status != session.ToolCompleted {
		t.Errorf("tool = %+v", second.Tools[0])
	}
	if !second.CreatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("CreatedAt = %v, want %v", second.CreatedAt, base.Add(time.Minute))
	}

	limited, _ := store.List(ctx, Filter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("List(limit 1) = %d", len(limited))
	}
}

func TestStore_SaveAssignsID(t *testing.T) {
	store := setupTestStore(t)
	msg := &session.Message{ExecutionID: "e1", Role: "assistant", Content: "x"}
	if err := store.SaveMessage(context.Background(), msg); err != nil {
		t.Fatalf("SaveMessage() error = %v", err)
	}
	if msg.ID == "" || msg.CreatedAt.IsZero() {
		t.Errorf("SaveMessage() left ID=%q CreatedAt=%v", msg.ID, msg.CreatedAt)
	}
}

func TestStore_Executions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	err := store.RecordExecution(ctx, Execution{
		ExecutionID: "e1", TargetID: "wf", Mode: session.ModeWorkflow,
		Status: session.StatusFailed, Error: "boom", StartedAt: start, EndedAt: start.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("RecordExecution() error = %v", err)
	}
	_ = store.RecordExecution(ctx, Execution{
		ExecutionID: "e2", TargetID: "agent", Mode: session.ModeAgent,
		Status: session.StatusCompleted, StartedAt: start, EndedAt: start.Add(2 * time.Minute),
	})

	got, err := store.GetExecution(ctx, "e1")
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if got.Status != session.StatusFailed || got.Error != "boom" || got.Mode != session.ModeWorkflow {
		t.Errorf("GetExecution() = %+v", got)
	}

	if _, err := store.GetExecution(ctx, "missing"); !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("GetExecution(missing) error = %v, want ErrExecutionNotFound", err)
	}

	list, err := store.ListExecutions(ctx, 10)
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	if len(list) != 2 || list[0].ExecutionID != "e2" {
		t.Errorf("ListExecutions() = %+v", list)
	}

	if err := store.RecordExecution(ctx, Execution{}); err == nil {
		t.Error("RecordExecution() without id should fail")
	}
}

func TestStore_Prune(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now().Add(-time.Hour)

	_ = store.SaveMessage(ctx, &session.Message{ID: "old", ExecutionID: "e", Role: "assistant", CreatedAt: old})
	_ = store.SaveMessage(ctx, &session.Message{ID: "new", ExecutionID: "e", Role: "assistant", CreatedAt: recent})
	_ = store.RecordExecution(ctx, Execution{ExecutionID: "e-old", TargetID: "t", Mode: session.ModeAgent, Status: session.StatusCompleted, EndedAt: old})

	n, err := store.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() = %d, want 2", n)
	}

	left, _ := store.List(ctx, Filter{})
	if len(left) != 1 || left[0].ID != "new" {
		t.Errorf("remaining = %+v", left)
	}
}

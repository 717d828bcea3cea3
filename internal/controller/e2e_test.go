package controller

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/HyphaGroup/execstream/internal/control"
	"github.com/HyphaGroup/execstream/internal/history"
	"github.com/HyphaGroup/execstream/internal/notify"
	"github.com/HyphaGroup/execstream/internal/session"
	"github.com/HyphaGroup/execstream/internal/transport"
)

// executionServer is a minimal compliant server for one agent turn
type executionServer struct {
	mu        sync.Mutex
	approvals map[string]bool
	approved  chan bool
}

func (s *executionServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/executions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"execution_id": "srv-1"})
	})
	mux.HandleFunc("POST /api/approvals/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Approved bool `json:"approved"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.approvals[r.PathValue("id")] = body.Approved
		s.mu.Unlock()
		s.approved <- body.Approved
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/executions/{id}/stream", func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		send := func(line string) {
			_, _ = io.WriteString(w, line+"\n")
			flusher.Flush()
		}
		send(`data: {"type":"status","message":"Starting..."}`)
		send(`data: {"type":"task_list","tasks":[{"id":1,"description":"Create folder","tool_name":"create_folder","status":"pending"}]}`)
		send(`data: {"type":"tool_approval_request","approval_id":"ap-1","tool":"create_folder","args":{"name":"Q3"}}`)

		var approved bool
		select {
		case approved = <-s.approved:
		case <-r.Context().Done():
			return
		}
		if !approved {
			send(`data: {"type":"tool_rejected","tool":"create_folder"}`)
		} else {
			send(`data: {"type":"tool_approved","tool":"create_folder"}`)
			send(`data: {"type":"tool_start","tool":"create_folder"}`)
			send(`data: {"type":"tool_complete","tool":"create_folder","result":{"folder_id":"f-1"},"duration_ms":15}`)
			send(`data: {"type":"task_update","task_id":1,"status":"completed"}`)
		}
		send(`data: {"type":"message_chunk","content":"Folder "}`)
		send(`data: {"type":"message_chunk","content":"created."}`)
		send(`data: {"type":"done"}`)
		send(`data: [DONE]`)
	})
	return mux
}

func TestEndToEnd_HTTPServer(t *testing.T) {
	srv := &executionServer{approvals: map[string]bool{}, approved: make(chan bool, 1)}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	ch, err := transport.New(transport.BackendSubscribe, transport.Options{BaseURL: ts.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("transport.New() error = %v", err)
	}
	store, err := history.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("history.NewStore() error = %v", err)
	}
	defer store.Close()

	var refreshed []string
	var refreshMu sync.Mutex
	c, err := New(Options{
		Control:  control.NewClient(control.Options{BaseURL: ts.URL, Token: "tok", Limiter: control.DefaultRateLimiter()}),
		Channel:  ch,
		Notifier: &notify.Recorder{},
		History:  store,
		Refresh: func(ctx context.Context, tool string, result any) error {
			refreshMu.Lock()
			refreshed = append(refreshed, tool)
			refreshMu.Unlock()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	id, err := c.Start(ctx, StartRequest{TargetID: "assistant"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if id != "srv-1" {
		t.Errorf("Start() = %q, want srv-1", id)
	}

	waitFor(t, c, "approval gate", func(s session.Session) bool { return s.PendingApproval != nil })
	if err := c.Approve(ctx, "", true); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	s := waitFor(t, c, "completed", func(s session.Session) bool { return s.Status == session.StatusCompleted })
	if len(s.History) != 1 {
		t.Fatalf("History = %+v", s.History)
	}
	msg := s.History[0]
	if msg.Content != "Folder created." || len(msg.Tools) != 1 || msg.Tools[0].Status != session.ToolCompleted {
		t.Errorf("message = %+v", msg)
	}
	if len(msg.Tasks) != 1 || msg.Tasks[0].ID != "1" || msg.Tasks[0].Status != "completed" {
		t.Errorf("tasks = %+v", msg.Tasks)
	}
	if len(s.CreatedObjects) != 1 || s.CreatedObjects[0].ID != "f-1" {
		t.Errorf("CreatedObjects = %+v", s.CreatedObjects)
	}

	refreshMu.Lock()
	if len(refreshed) != 1 || refreshed[0] != "create_folder" {
		t.Errorf("refreshed = %v", refreshed)
	}
	refreshMu.Unlock()

	// effects run after the state is published, so poll for the outcome row
	var outcome *history.Execution
	deadline := time.Now().Add(2 * time.Second)
	for {
		outcome, err = store.GetExecution(ctx, "srv-1")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if outcome.Status != session.StatusCompleted {
		t.Errorf("outcome = %+v", outcome)
	}

	stored, err := store.List(ctx, history.Filter{ExecutionID: "srv-1"})
	if err != nil || len(stored) != 1 {
		t.Fatalf("stored messages = %d, err %v", len(stored), err)
	}
}

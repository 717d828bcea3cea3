package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/execstream/internal/auth"
)

func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	ss, err := s.MCPServer().Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func TestServer_ListTools(t *testing.T) {
	cs := connect(t, NewServer(newFakeController(), nil))

	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(res.Tools) != 8 {
		t.Errorf("tools = %d, want 8", len(res.Tools))
	}
}

func TestServer_CallTool(t *testing.T) {
	ctrl := newFakeController()
	cs := connect(t, NewServer(ctrl, nil))
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "execution_start",
		Arguments: map[string]any{"target_id": "agent-7"},
	})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("CallTool() returned error result: %v", res.Content)
	}
	text := res.Content[0].(*mcp.TextContent).Text
	var out ExecutionResult
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatalf("result is not JSON: %q", text)
	}
	if out.ExecutionID != "exec-1" {
		t.Errorf("execution_id = %q", out.ExecutionID)
	}

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "execution_start", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content[0].(*mcp.TextContent).Text, "target_id is required") {
		t.Errorf("missing target should be an error result, got %+v", res)
	}
}

func TestServer_Handler(t *testing.T) {
	tokens := auth.NewStore()
	if err := tokens.Add("exs_handler_test_secret", auth.Token{Name: "t", Scope: auth.ScopeRead}); err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(NewServer(newFakeController(), &ServerConfig{Tokens: tokens}).Handler())
	defer ts.Close()

	tests := []struct {
		name   string
		path   string
		bearer string
		want   int
	}{
		{"health is open", "/health", "", http.StatusOK},
		{"metrics is open", "/metrics", "", http.StatusOK},
		{"mcp requires token", "/mcp", "", http.StatusUnauthorized},
		{"mcp rejects unknown token", "/mcp", "exs_wrong_secret_value", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, ts.URL+tt.path, strings.NewReader(`{}`))
			if tt.path != "/mcp" {
				req.Method = http.MethodGet
			}
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			_ = resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestServer_HandlerWithoutTokensRejectsAll(t *testing.T) {
	ctrl := newFakeController()
	ts := httptest.NewServer(NewServer(ctrl, nil).Handler())
	defer ts.Close()

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"execution_stop","arguments":{}}}`
	for _, bearer := range []string{"", "exs_anything_goes_here_123"} {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json, text/event-stream")
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("bearer %q: status = %d, want %d", bearer, resp.StatusCode, http.StatusUnauthorized)
		}
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.calls) != 0 {
		t.Errorf("controller calls = %v, want none", ctrl.calls)
	}
}

func TestServer_ServeRequiresTokens(t *testing.T) {
	tests := []struct {
		name   string
		tokens *auth.Store
	}{
		{"nil store", nil},
		{"empty store", auth.NewStore()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(newFakeController(), &ServerConfig{Tokens: tt.tokens})
			err := s.Serve(context.Background(), "127.0.0.1:0")
			if !errors.Is(err, ErrNoTokens) {
				t.Errorf("Serve() error = %v, want ErrNoTokens", err)
			}
		})
	}
}

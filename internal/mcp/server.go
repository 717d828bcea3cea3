// Package mcp exposes the execution controller as MCP tools, over stdio
// for a local agent or over streamable HTTP with bearer tokens.
package mcp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/execstream/internal/audit"
	"github.com/HyphaGroup/execstream/internal/auth"
	"github.com/HyphaGroup/execstream/internal/control"
	"github.com/HyphaGroup/execstream/internal/controller"
	"github.com/HyphaGroup/execstream/internal/history"
	"github.com/HyphaGroup/execstream/internal/logger"
	"github.com/HyphaGroup/execstream/internal/metrics"
	"github.com/HyphaGroup/execstream/internal/session"
)

// Controller is the part of controller.Controller the tools drive
type Controller interface {
	Start(ctx context.Context, req controller.StartRequest) (string, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	Approve(ctx context.Context, approvalID string, approved bool) error
	Snapshot() session.Session
	Events(sinceIndex int) ([]*session.BufferedEvent, error)
	BufferStats() session.BufferStats
}

// HistoryReader lists persisted messages and outcomes
type HistoryReader interface {
	List(ctx context.Context, f history.Filter) ([]session.Message, error)
	ListExecutions(ctx context.Context, limit int) ([]history.Execution, error)
}

// ErrNoTokens is returned by Serve when no bearer token is configured
var ErrNoTokens = errors.New("mcp http endpoint requires at least one token in mcp.tokens (see: execstream token generate)")

// Server wraps the MCP server around one controller
type Server struct {
	ctrl      Controller
	history   HistoryReader
	tokens    *auth.Store
	limiter   *control.RateLimiter
	audit     *audit.Logger
	registry  *Registry
	mcpServer *mcp.Server
}

// ServerConfig holds optional collaborators
type ServerConfig struct {
	Version string
	// History is nil when persistence is disabled
	History HistoryReader
	// Tokens guards the HTTP endpoint; empty means no authentication
	Tokens *auth.Store
	// Limiter throttles HTTP requests per token
	Limiter *control.RateLimiter
	// Audit records control operations; nil disables auditing
	Audit *audit.Logger
}

// NewServer creates a new MCP server instance
func NewServer(ctrl Controller, cfg *ServerConfig) *Server {
	if cfg == nil {
		cfg = &ServerConfig{}
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		ctrl:     ctrl,
		history:  cfg.History,
		tokens:   cfg.Tokens,
		limiter:  cfg.Limiter,
		audit:    cfg.Audit,
		registry: NewRegistry(),
	}
	s.registerAllTools(s.registry)

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "execstream",
		Version: version,
	}, nil)
	s.registry.RegisterWithMCPServer(s.mcpServer)
	return s
}

// GetRegistry returns the tool registry
func (s *Server) GetRegistry() *Registry {
	return s.registry
}

// MCPServer returns the underlying SDK server
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// ServeStdio serves one client over stdin/stdout until ctx is done or the client disconnects
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

// Handler returns the HTTP handler: /mcp (authenticated), /health and /metrics
func (s *Server) Handler() http.Handler {
	mcpHandler := mcp.NewStreamableHTTPHandler(func(req *http.Request) *mcp.Server {
		return s.mcpServer
	}, &mcp.StreamableHTTPOptions{
		EventStore: mcp.NewMemoryEventStore(nil),
	})

	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), logger.ContextKeyRequestID, requestID)
		ctx = WithRemoteAddr(ctx, r.RemoteAddr)
		r = r.WithContext(ctx)

		logger.WithContext(ctx).Debug("mcp request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		mcpHandler.ServeHTTP(w, r)
	})

	// Rate limiting runs after auth so it can key by token
	if s.limiter != nil {
		handler = auth.RateLimitMiddleware(s.limiter)(handler)
	}
	// An empty store rejects every request
	tokens := s.tokens
	if tokens == nil {
		tokens = auth.NewStore()
	}
	handler = auth.Middleware(tokens)(handler)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealthCheck)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/mcp", handler)
	mux.Handle("/mcp/", handler)
	return mux
}

// Serve listens on addr until ctx is done
func (s *Server) Serve(ctx context.Context, addr string) error {
	if s.tokens == nil || s.tokens.Len() == 0 {
		return ErrNoTokens
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Slog().Info("mcp http server listening", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// handleHealthCheck is a basic liveness check
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

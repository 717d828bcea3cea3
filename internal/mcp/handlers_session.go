package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/execstream/internal/history"
	"github.com/HyphaGroup/execstream/internal/session"
)

// DefaultMaxEvents caps one session_events page
const DefaultMaxEvents = 200

// SessionGetParams selects the session view
type SessionGetParams struct {
	Summary bool `json:"summary,omitempty" jsonschema:"return a compact summary instead of the full session"`
}

// SessionEventsParams pages through applied events
type SessionEventsParams struct {
	SinceIndex *int `json:"since_index,omitempty" jsonschema:"last index already seen; omit for all buffered events"`
	MaxEvents  int  `json:"max_events,omitempty" jsonschema:"maximum events to return (default 200)"`
}

// SessionEventsResult is one page of applied events
type SessionEventsResult struct {
	ExecutionID string                   `json:"execution_id"`
	Status      session.Status           `json:"status"`
	Events      []*session.BufferedEvent `json:"events"`
	LastIndex   int                      `json:"last_index"`
	HasMore     bool                     `json:"has_more"`
	Dropped     int64                    `json:"dropped_events"`
}

// HistoryListParams filters persisted history
type HistoryListParams struct {
	ExecutionID string `json:"execution_id,omitempty" jsonschema:"only messages of this execution"`
	Limit       int    `json:"limit,omitempty" jsonschema:"maximum rows (default 50)"`
	Executions  bool   `json:"executions,omitempty" jsonschema:"list execution outcomes instead of messages"`
}

func (s *Server) handleSessionGet(ctx context.Context, request *mcp.CallToolRequest, params SessionGetParams) (*mcp.CallToolResult, any, error) {
	snap := s.ctrl.Snapshot()
	if params.Summary {
		return nil, snap.ToSummary(), nil
	}
	return nil, snap, nil
}

func (s *Server) handleSessionEvents(ctx context.Context, request *mcp.CallToolRequest, params SessionEventsParams) (*mcp.CallToolResult, any, error) {
	since := -1
	if params.SinceIndex != nil {
		since = *params.SinceIndex
	}
	limit := params.MaxEvents
	if limit <= 0 {
		limit = DefaultMaxEvents
	}

	events, err := s.ctrl.Events(since)
	if err != nil {
		return nil, nil, err
	}

	hasMore := false
	if len(events) > limit {
		events = events[:limit]
		hasMore = true
	}
	lastIndex := since
	if len(events) > 0 {
		lastIndex = events[len(events)-1].Index
	}

	snap := s.ctrl.Snapshot()
	stats := s.ctrl.BufferStats()
	return nil, SessionEventsResult{
		ExecutionID: snap.ExecutionID,
		Status:      snap.Status,
		Events:      events,
		LastIndex:   lastIndex,
		HasMore:     hasMore,
		Dropped:     stats.DroppedEvents,
	}, nil
}

func (s *Server) handleHistoryList(ctx context.Context, request *mcp.CallToolRequest, params HistoryListParams) (*mcp.CallToolResult, any, error) {
	if s.history == nil {
		return nil, nil, fmt.Errorf("history is disabled")
	}
	if params.Executions {
		execs, err := s.history.ListExecutions(ctx, params.Limit)
		if err != nil {
			return nil, nil, err
		}
		return nil, map[string]any{"executions": execs}, nil
	}

	msgs, err := s.history.List(ctx, history.Filter{ExecutionID: params.ExecutionID, Limit: params.Limit})
	if err != nil {
		return nil, nil, err
	}
	return nil, map[string]any{"messages": msgs}, nil
}

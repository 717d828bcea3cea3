package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/execstream/internal/audit"
	"github.com/HyphaGroup/execstream/internal/auth"
	"github.com/HyphaGroup/execstream/internal/control"
	"github.com/HyphaGroup/execstream/internal/controller"
	"github.com/HyphaGroup/execstream/internal/logger"
	"github.com/HyphaGroup/execstream/internal/session"
)

// ExecutionStartParams starts a new execution
type ExecutionStartParams struct {
	TargetID  string         `json:"target_id" jsonschema:"workflow or agent to run"`
	ProjectID string         `json:"project_id,omitempty" jsonschema:"project the execution belongs to"`
	Mode      string         `json:"mode,omitempty" jsonschema:"agent or workflow; defaults to the configured mode"`
	Config    map[string]any `json:"config,omitempty" jsonschema:"run configuration passed to the server"`
}

// NoParams is the input of tools that take no arguments
type NoParams struct{}

// ApprovalRespondParams answers an approval request
type ApprovalRespondParams struct {
	ApprovalID string `json:"approval_id,omitempty" jsonschema:"approval to answer; empty means the pending one"`
	Approved   bool   `json:"approved" jsonschema:"true to approve, false to reject"`
}

// ExecutionResult reports the session state after a control call
type ExecutionResult struct {
	ExecutionID string         `json:"execution_id"`
	Status      session.Status `json:"status"`
	Pending     string         `json:"pending_control,omitempty"`
}

func (s *Server) handleExecutionStart(ctx context.Context, request *mcp.CallToolRequest, params ExecutionStartParams) (*mcp.CallToolResult, any, error) {
	if params.TargetID == "" {
		return nil, nil, fmt.Errorf("target_id is required")
	}
	mode := session.Mode(params.Mode)
	switch mode {
	case "", session.ModeAgent, session.ModeWorkflow:
	default:
		return nil, nil, fmt.Errorf("mode must be agent or workflow, got %q", params.Mode)
	}

	id, err := s.ctrl.Start(ctx, controller.StartRequest{
		TargetID:  params.TargetID,
		ProjectID: params.ProjectID,
		Mode:      mode,
		Config:    params.Config,
	})
	s.audit.Log(&audit.Event{
		Operation:   audit.OpExecutionStart,
		Actor:       actor(ctx),
		ExecutionID: id,
		TargetID:    params.TargetID,
		RequestID:   requestID(ctx),
		Success:     err == nil,
		Error:       errString(err),
	})
	if err != nil {
		return nil, nil, control.SanitizeError(err, "execution_start")
	}
	logger.InfoContext(logger.WithExecution(ctx, id, params.TargetID), "execution started via mcp", "remote", GetRemoteAddr(ctx))
	return nil, s.executionResult(), nil
}

func (s *Server) handleExecutionPause(ctx context.Context, request *mcp.CallToolRequest, params NoParams) (*mcp.CallToolResult, any, error) {
	executionID := s.ctrl.Snapshot().ExecutionID
	err := s.ctrl.Pause(ctx)
	s.audit.Record(audit.OpExecutionPause, actor(ctx), executionID, err)
	if err != nil {
		return nil, nil, control.SanitizeError(err, "execution_pause")
	}
	return nil, s.executionResult(), nil
}

func (s *Server) handleExecutionResume(ctx context.Context, request *mcp.CallToolRequest, params NoParams) (*mcp.CallToolResult, any, error) {
	executionID := s.ctrl.Snapshot().ExecutionID
	err := s.ctrl.Resume(ctx)
	s.audit.Record(audit.OpExecutionResume, actor(ctx), executionID, err)
	if err != nil {
		return nil, nil, control.SanitizeError(err, "execution_resume")
	}
	return nil, s.executionResult(), nil
}

func (s *Server) handleExecutionStop(ctx context.Context, request *mcp.CallToolRequest, params NoParams) (*mcp.CallToolResult, any, error) {
	executionID := s.ctrl.Snapshot().ExecutionID
	err := s.ctrl.Stop(ctx)
	s.audit.Record(audit.OpExecutionStop, actor(ctx), executionID, err)
	if err != nil {
		return nil, nil, control.SanitizeError(err, "execution_stop")
	}
	return nil, s.executionResult(), nil
}

func (s *Server) handleApprovalRespond(ctx context.Context, request *mcp.CallToolRequest, params ApprovalRespondParams) (*mcp.CallToolResult, any, error) {
	executionID := s.ctrl.Snapshot().ExecutionID
	err := s.ctrl.Approve(ctx, params.ApprovalID, params.Approved)
	s.audit.Log(&audit.Event{
		Operation:   audit.OpApprovalRespond,
		Actor:       actor(ctx),
		ExecutionID: executionID,
		RequestID:   requestID(ctx),
		Success:     err == nil,
		Error:       errString(err),
		Details:     map[string]any{"approval_id": params.ApprovalID, "approved": params.Approved},
	})
	if err != nil {
		return nil, nil, control.SanitizeError(err, "approval_respond")
	}
	verb := "rejected"
	if params.Approved {
		verb = "approved"
	}
	return NewTextResult(fmt.Sprintf("Approval %s; waiting for the server to confirm.", verb)), nil, nil
}

func (s *Server) executionResult() ExecutionResult {
	snap := s.ctrl.Snapshot()
	res := ExecutionResult{ExecutionID: snap.ExecutionID, Status: snap.Status}
	if snap.PendingControl != nil {
		res.Pending = string(snap.PendingControl.Command)
	}
	return res
}

// actor names the caller for the audit log
func actor(ctx context.Context) string {
	if a := auth.FromContext(ctx); a != nil && a.Token != nil {
		return a.Token.Name
	}
	if GetRemoteAddr(ctx) != "" {
		return "anonymous"
	}
	return "stdio"
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(logger.ContextKeyRequestID).(string)
	return id
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

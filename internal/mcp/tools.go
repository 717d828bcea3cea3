package mcp

// registerAllTools registers all MCP tools with the registry
func (s *Server) registerAllTools(r *Registry) {
	s.registerExecutionTools(r)
	s.registerSessionTools(r)
}

func (s *Server) registerExecutionTools(r *Registry) {
	Register(r, ToolDef{
		Name: "execution_start",
		Description: `Start a workflow run or agent turn and follow its event stream.

Supersedes the current session, whatever its status. Returns the new execution_id.

Key parameters:
  target_id : workflow or agent to run (required)
  project_id: project the execution belongs to
  mode      : "agent" (done ends the turn) or "workflow" (complete ends the run)
  config    : run configuration passed through to the server`,
		Access: AccessWrite,
	}, s.handleExecutionStart)

	Register(r, ToolDef{
		Name:        "execution_pause",
		Description: `Pause the running execution. The stream is left open; a later status event confirms the pause.`,
		Access:      AccessWrite,
	}, s.handleExecutionPause)

	Register(r, ToolDef{
		Name:        "execution_resume",
		Description: `Resume a paused execution. The event stream is reopened.`,
		Access:      AccessWrite,
	}, s.handleExecutionResume)

	Register(r, ToolDef{
		Name:        "execution_stop",
		Description: `Stop the running or paused execution and close its stream. Any pending approval is discarded.`,
		Access:      AccessWrite,
	}, s.handleExecutionStop)

	Register(r, ToolDef{
		Name: "approval_respond",
		Description: `Approve or reject the tool call waiting for approval.

The session state only changes when the server's tool_approved or tool_rejected
event arrives. Leave approval_id empty to answer the pending request.`,
		Access: AccessWrite,
	}, s.handleApprovalRespond)
}

func (s *Server) registerSessionTools(r *Registry) {
	Register(r, ToolDef{
		Name: "session_get",
		Description: `Get the current session: status, pending approval, tool records, task plan,
streamed text, logs, outputs and folded history. Set summary=true for a compact view.`,
		Access: AccessRead,
	}, s.handleSessionGet)

	Register(r, ToolDef{
		Name: "session_events",
		Description: `List events applied to the current session.

Pass since_index from the previous call's last_index to fetch only new events;
omit it to get everything still buffered.`,
		Access: AccessRead,
	}, s.handleSessionEvents)

	Register(r, ToolDef{
		Name: "history_list",
		Description: `List persisted messages, newest first, optionally for one execution_id.
Set executions=true to list recorded execution outcomes instead.`,
		Access: AccessRead,
	}, s.handleHistoryList)
}

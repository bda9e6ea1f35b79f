package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hermod-ai/hermod/internal/agent"
	"github.com/hermod-ai/hermod/internal/storage"
)

// NewMCPServer exposes the control surface over MCP so a chat client can
// inspect and drive the roster.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"hermod",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("hermod — autonomous email agent roster: inspect, trigger, and give feedback."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_agents",
			mcp.WithDescription("List all agents with their schedule, enabled state, and last run."),
		),
		mcpListAgents(deps),
	)

	s.AddTool(
		mcp.NewTool("trigger_agent",
			mcp.WithDescription("Run an agent immediately, outside its schedule."),
			mcp.WithString("agent_id", mcp.Description("Agent to run"), mcp.Required()),
		),
		mcpTriggerAgent(deps),
	)

	s.AddTool(
		mcp.NewTool("scheduler_status",
			mcp.WithDescription("Current scheduler state: jobs, next fire times, total executions."),
		),
		mcpSchedulerStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_feedback",
			mcp.WithDescription("Record thumbs up or down feedback against one execution."),
			mcp.WithString("execution_id", mcp.Description("Execution the feedback refers to"), mcp.Required()),
			mcp.WithString("type", mcp.Description("thumbs_up or thumbs_down"), mcp.Required()),
		),
		mcpSubmitFeedback(deps),
	)

	s.AddTool(
		mcp.NewTool("recent_executions",
			mcp.WithDescription("Latest execution records, optionally filtered by agent."),
			mcp.WithString("agent_id", mcp.Description("Filter to one agent")),
			mcp.WithNumber("limit", mcp.Description("Maximum records (default 10)")),
		),
		mcpRecentExecutions(deps),
	)

	s.AddTool(
		mcp.NewTool("propose_change",
			mcp.WithDescription("Propose a single-field config change for an agent; goes through the guardrail engine."),
			mcp.WithString("agent_id", mcp.Description("Target agent"), mcp.Required()),
			mcp.WithString("field", mcp.Description("Config field to change"), mcp.Required()),
			mcp.WithString("new_value", mcp.Description("New value, JSON-encoded"), mcp.Required()),
			mcp.WithString("reason", mcp.Description("Why the change is wanted")),
		),
		mcpProposeChange(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"hermod://agents",
			"Agent Roster",
			mcp.WithResourceDescription("All agents with runtime state as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceAgents(deps),
	)

	return s
}

func mcpListAgents(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(deps.Registry.StatusAll())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal agents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpTriggerAgent(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return mcpError("agent_id is required"), nil
		}
		rec, err := deps.Scheduler.Trigger(ctx, agentID)
		if err != nil {
			return mcpError(fmt.Sprintf("trigger failed: %v", err)), nil
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal record: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSchedulerStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status, err := deps.Scheduler.Status()
		if err != nil {
			return mcpError(fmt.Sprintf("status failed: %v", err)), nil
		}
		b, err := json.Marshal(status)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSubmitFeedback(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		execStr, err := req.RequireString("execution_id")
		if err != nil {
			return mcpError("execution_id is required"), nil
		}
		var execID int64
		if _, err := fmt.Sscanf(execStr, "%d", &execID); err != nil {
			return mcpError(fmt.Sprintf("invalid execution_id %q", execStr)), nil
		}
		feedbackType, err := req.RequireString("type")
		if err != nil {
			return mcpError("type is required"), nil
		}

		fb, err := deps.Learning.RecordFeedback("", execID, feedbackType)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("execution %d not found", execID)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("recording feedback failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Recorded %s for execution %d (feedback %s)", fb.Type, execID, fb.ID)), nil
	}
}

func mcpRecentExecutions(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}
		executions, err := deps.Store.ListExecutions(req.GetString("agent_id", ""), limit)
		if err != nil {
			return mcpError(fmt.Sprintf("listing executions failed: %v", err)), nil
		}
		if len(executions) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(executions)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal executions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpProposeChange(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return mcpError("agent_id is required"), nil
		}
		field, err := req.RequireString("field")
		if err != nil {
			return mcpError("field is required"), nil
		}
		rawValue, err := req.RequireString("new_value")
		if err != nil {
			return mcpError("new_value is required"), nil
		}
		var newValue any
		if err := json.Unmarshal([]byte(rawValue), &newValue); err != nil {
			return mcpError(fmt.Sprintf("new_value is not valid JSON: %v", err)), nil
		}

		audit, err := deps.Learning.Propose(ctx, agent.Proposal{
			AgentID:    agentID,
			Field:      field,
			NewValue:   newValue,
			Reason:     req.GetString("reason", ""),
			ProposedBy: agent.ProposerHuman,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("proposal failed: %v", err)), nil
		}
		if !audit.Approved {
			return mcpText(fmt.Sprintf("Rejected: %s", audit.RejectionReason)), nil
		}
		return mcpText(fmt.Sprintf("Applied: %s.%s now at config version %d", agentID, field, audit.VersionAfter)), nil
	}
}

func mcpResourceAgents(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Registry.StatusAll())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal agents: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/prcycle/internal/cycle"
	"github.com/joescharf/prcycle/internal/models"
	"github.com/joescharf/prcycle/internal/store"
	"github.com/joescharf/prcycle/internal/timeutil"
)

// Server exposes the review cycle operations as MCP tools.
type Server struct {
	engine  *cycle.Engine
	version string
}

// NewServer creates the MCP server wrapper around an engine.
func NewServer(e *cycle.Engine, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{engine: e, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("prcycle", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.safePushTool())
	srv.AddTool(s.triggerReviewTool())
	srv.AddTool(s.statusTool())
	srv.AddTool(s.waitTool())
	srv.AddTool(s.resumeTool())
	srv.AddTool(s.listCyclesTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// prcycle_safe_push
func (s *Server) safePushTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prcycle_safe_push",
		mcp.WithDescription("Verify the working tree is clean and tracks an upstream, then fetch, rebase onto the upstream and push. Never force-pushes over commits it has not seen."),
	)
	return tool, s.handleSafePush
}

func (s *Server) handleSafePush(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.engine.Gate == nil {
		return mcp.NewToolResultError("no working tree configured"), nil
	}
	res, err := s.engine.Gate.SafePush(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

// prcycle_trigger_review
func (s *Server) triggerReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prcycle_trigger_review",
		mcp.WithDescription("Request reviews on a PR and wait for the main reviewer. Returns triggered_bots, initial_status and next_step. Follow next_step exactly."),
		mcp.WithNumber("pr_number", mcp.Required(), mcp.Description("Pull request number")),
		mcp.WithNumber("wait_seconds", mcp.Description("Seconds to wait before the first check (default 180, 0 skips waiting)")),
		mcp.WithString("mode", mcp.Description("online (default), local or offline")),
		mcp.WithString("validation_reviewer", mcp.Description("Main reviewer login (default from config)")),
	)
	return tool, s.handleTriggerReview
}

func (s *Server) handleTriggerReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pr, err := request.RequireInt("pr_number")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mode, err := models.ParseMode(request.GetString("mode", string(models.ModeOnline)))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.engine.Trigger(ctx, cycle.TriggerRequest{
		PRNumber:           pr,
		Mode:               mode,
		WaitSeconds:        request.GetInt("wait_seconds", cycle.DefaultWaitSeconds),
		ValidationReviewer: request.GetString("validation_reviewer", ""),
	})
	out, jerr := jsonResult(res)
	if jerr != nil || err == nil {
		return out, jerr
	}
	out.IsError = true
	return out, nil
}

// prcycle_status
func (s *Server) statusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prcycle_status",
		mcp.WithDescription("Fetch reviews, inline comments and issue comments on a PR created strictly after 'since'. Returns items, main_reviewer and next_step."),
		mcp.WithNumber("pr_number", mcp.Required(), mcp.Description("Pull request number")),
		mcp.WithString("since", mcp.Description("ISO 8601 timestamp with Z or offset (default: beginning of time)")),
		mcp.WithString("validation_reviewer", mcp.Description("Main reviewer login (default from config)")),
	)
	return tool, s.handleStatus
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pr, err := request.RequireInt("pr_number")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	since, err := parseSince(request.GetString("since", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.engine.Feedback == nil {
		return mcp.NewToolResultError("no review platform configured"), nil
	}

	rep, err := s.engine.Feedback.Status(ctx, pr, since, request.GetString("validation_reviewer", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(rep)
}

// prcycle_wait
func (s *Server) waitTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prcycle_wait",
		mcp.WithDescription("Poll a PR until any new feedback arrives or the timeout elapses. Same result shape as prcycle_status, with status 'timeout' when nothing arrived."),
		mcp.WithNumber("pr_number", mcp.Required(), mcp.Description("Pull request number")),
		mcp.WithString("since", mcp.Description("ISO 8601 timestamp (default: the active cycle's watermark)")),
		mcp.WithNumber("timeout_minutes", mcp.Description("Give up after this many minutes (default 25)")),
		mcp.WithNumber("interval_seconds", mcp.Description("Seconds between checks (default 60)")),
		mcp.WithString("validation_reviewer", mcp.Description("Main reviewer login (default from config)")),
	)
	return tool, s.handleWait
}

func (s *Server) handleWait(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pr, err := request.RequireInt("pr_number")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	since, err := parseSince(request.GetString("since", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	lr, err := s.engine.Wait(ctx, cycle.WaitRequest{
		PRNumber:           pr,
		Since:              since,
		Timeout:            time.Duration(request.GetInt("timeout_minutes", 0)) * time.Minute,
		Interval:           time.Duration(request.GetInt("interval_seconds", 0)) * time.Second,
		ValidationReviewer: request.GetString("validation_reviewer", ""),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(lr.Report)
}

// prcycle_resume
func (s *Server) resumeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prcycle_resume",
		mcp.WithDescription("Continue polling every interrupted review cycle of this repository from its last checkpoint, without requesting reviews again."),
	)
	return tool, s.handleResume
}

func (s *Server) handleResume(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.engine.Resume(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

// prcycle_list_cycles
func (s *Server) listCyclesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prcycle_list_cycles",
		mcp.WithDescription("List review cycles with their status and watermark. Active cycles only unless 'all' is true."),
		mcp.WithNumber("pr_number", mcp.Description("Only cycles of this PR")),
		mcp.WithBoolean("all", mcp.Description("Include finished cycles")),
	)
	return tool, s.handleListCycles
}

func (s *Server) handleListCycles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cycles, corrupt, err := s.engine.Store.ListCycles(ctx, store.CycleFilter{
		Repo:       s.engine.Repo,
		PRNumber:   request.GetInt("pr_number", 0),
		ActiveOnly: !request.GetBool("all", false),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list cycles: %v", err)), nil
	}

	out := struct {
		Cycles      []*models.ReviewCycle `json:"cycles"`
		Quarantined []string              `json:"quarantined,omitempty"`
	}{Cycles: cycles}
	if out.Cycles == nil {
		out.Cycles = []*models.ReviewCycle{}
	}
	for _, c := range corrupt {
		out.Quarantined = append(out.Quarantined, c.Error())
	}
	return jsonResult(out)
}

func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := timeutil.ParseUTC(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid since: %w", err)
	}
	return t, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult reports err as a structured error document.
func errorResult(err error) *mcp.CallToolResult {
	data, _ := json.Marshal(map[string]string{
		"status":     cycle.StatusError,
		"error_kind": cycle.ErrorKind(err),
		"message":    err.Error(),
	})
	res := mcp.NewToolResultText(string(data))
	res.IsError = true
	return res
}

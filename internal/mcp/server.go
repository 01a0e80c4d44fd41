// Package mcp exposes session state, reflection findings, and the stop
// decision as MCP tools so host agents can inspect the controller.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/autoloop/internal/hook"
	"github.com/joescharf/autoloop/internal/store"
)

// Server wraps the autoloop data layer and exposes it as MCP tools.
type Server struct {
	store       store.Store
	interceptor *hook.Interceptor
}

// NewServer creates the MCP server wrapper. interceptor may be nil, in which
// case the stop-decision tool is not registered.
func NewServer(s store.Store, interceptor *hook.Interceptor) *Server {
	return &Server{store: s, interceptor: interceptor}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("autoloop", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listSessionsTool())
	srv.AddTool(s.sessionStatusTool())
	srv.AddTool(s.reflectionFindingsTool())
	if s.interceptor != nil {
		srv.AddTool(s.stopDecisionTool())
	}

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

// autoloop_list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("autoloop_list_sessions",
		mcp.WithDescription("List auto-mode sessions, newest first. Returns a JSON array with id, objective, state, turn progress, and timestamps."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of sessions to return (default 20)")),
	)
	return tool, s.handleListSessions
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 20)
	sessions, err := s.store.ListSessions(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}

	type sessionOut struct {
		ID          string `json:"id"`
		Objective   string `json:"objective"`
		State       string `json:"state"`
		CurrentTurn int    `json:"current_turn"`
		MaxTurns    int    `json:"max_turns"`
		Branch      string `json:"branch,omitempty"`
		StartedAt   string `json:"started_at"`
		EndedAt     string `json:"ended_at,omitempty"`
	}

	out := make([]sessionOut, len(sessions))
	for i, sess := range sessions {
		out[i] = sessionOut{
			ID:          sess.ID,
			Objective:   sess.Objective,
			State:       string(sess.State),
			CurrentTurn: sess.CurrentTurn,
			MaxTurns:    sess.MaxTurns,
			Branch:      sess.Branch,
			StartedAt:   sess.StartedAt.Format(time.RFC3339),
		}
		if sess.EndedAt != nil {
			out[i].EndedAt = sess.EndedAt.Format(time.RFC3339)
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// autoloop_session_status
func (s *Server) sessionStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("autoloop_session_status",
		mcp.WithDescription("Get one session with its full turn log: phase, output excerpt, completion detection, and errors per turn."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	)
	return tool, s.handleSessionStatus
}

func (s *Server) handleSessionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", sessionID)), nil
	}
	turns, err := s.store.ListTurns(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list turns: %v", err)), nil
	}

	type turnOut struct {
		TurnNumber         int    `json:"turn_number"`
		Phase              string `json:"phase"`
		Output             string `json:"output"`
		DetectedCompletion bool   `json:"detected_completion"`
		MatchedPhrase      string `json:"matched_phrase,omitempty"`
		Error              string `json:"error,omitempty"`
	}

	turnsOut := make([]turnOut, len(turns))
	for i, t := range turns {
		turnsOut[i] = turnOut{
			TurnNumber:         t.TurnNumber,
			Phase:              string(t.Phase),
			Output:             excerpt(t.RawOutput, 2000),
			DetectedCompletion: t.DetectedCompletion,
			MatchedPhrase:      t.MatchedPhrase,
			Error:              t.Error,
		}
	}

	result := map[string]any{
		"id":            sess.ID,
		"objective":     sess.Objective,
		"state":         string(sess.State),
		"current_turn":  sess.CurrentTurn,
		"max_turns":     sess.MaxTurns,
		"summary":       sess.Summary,
		"worktree_path": sess.WorktreePath,
		"branch":        sess.Branch,
		"started_at":    sess.StartedAt.Format(time.RFC3339),
		"turns":         turnsOut,
	}
	if sess.EndedAt != nil {
		result["ended_at"] = sess.EndedAt.Format(time.RFC3339)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal session: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// autoloop_reflection_findings
func (s *Server) reflectionFindingsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("autoloop_reflection_findings",
		mcp.WithDescription("List reflection findings detected for a session: pattern kind, identifier, count, and suggested remediation."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	)
	return tool, s.handleReflectionFindings
}

func (s *Server) handleReflectionFindings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	findings, err := s.store.ListFindings(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list findings: %v", err)), nil
	}

	type findingOut struct {
		PatternKind string `json:"pattern_kind"`
		Identifier  string `json:"identifier,omitempty"`
		Count       int    `json:"count,omitempty"`
		Suggestion  string `json:"suggestion"`
	}

	out := make([]findingOut, len(findings))
	for i, f := range findings {
		out[i] = findingOut{
			PatternKind: string(f.PatternKind),
			Identifier:  f.Identifier,
			Count:       f.Count,
			Suggestion:  f.Suggestion,
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal findings: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// autoloop_stop_decision
func (s *Server) stopDecisionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("autoloop_stop_decision",
		mcp.WithDescription("Evaluate the stop-hook decision for a session: block while its continuous-work lock is held, approve otherwise."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	)
	return tool, s.handleStopDecision
}

func (s *Server) handleStopDecision(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	decision, _ := s.interceptor.Decide(hook.Payload{SessionID: sessionID})
	data, err := json.Marshal(decision)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal decision: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func excerpt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

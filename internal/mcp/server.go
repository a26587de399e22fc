package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/voxpilot/internal/confirm"
	"github.com/joescharf/voxpilot/internal/models"
)

// Backend is the part of the remote client exposed over MCP.
type Backend interface {
	Interpret(ctx context.Context, utterance, sessionID string) (*models.Interpretation, error)
	ExecuteTool(ctx context.Context, sessionID, toolID string, params map[string]any) (*models.ExecuteResult, error)
	Tools(ctx context.Context) ([]*models.Tool, error)
}

// Server exposes the voice assistant backend as MCP tools.
type Server struct {
	backend Backend
	version string
}

// NewServer creates the MCP server wrapper.
func NewServer(b Backend, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{backend: b, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("voxpilot", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.interpretTool())
	srv.AddTool(s.executeTool())
	srv.AddTool(s.classifyReplyTool())
	srv.AddTool(s.listToolsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// voxpilot_interpret
func (s *Server) interpretTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("voxpilot_interpret",
		mcp.WithDescription("Interpret a spoken request. Returns the planned tool calls and the confirmation question, or type \"unknown\"."),
		mcp.WithString("utterance", mcp.Required(), mcp.Description("What the user said")),
		mcp.WithString("session_id", mcp.Description("Session id from a previous interpretation")),
	)
	return tool, s.handleInterpret
}

func (s *Server) handleInterpret(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	utterance, err := request.RequireString("utterance")
	if err != nil || utterance == "" {
		return mcp.NewToolResultError("missing required parameter: utterance"), nil
	}
	res, err := s.backend.Interpret(ctx, utterance, request.GetString("session_id", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("意图解析失败: %v", err)), nil
	}
	return jsonResult(res)
}

// voxpilot_execute
func (s *Server) executeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("voxpilot_execute",
		mcp.WithDescription("Execute a tool call the user has confirmed. Returns the spoken reply (tts_message) and raw data."),
		mcp.WithString("tool_id", mcp.Required(), mcp.Description("Tool id from voxpilot_interpret or voxpilot_list_tools")),
		mcp.WithObject("params", mcp.Description("Tool parameters matching its request_schema")),
		mcp.WithString("session_id", mcp.Description("Session id from voxpilot_interpret")),
	)
	return tool, s.handleExecute
}

func (s *Server) handleExecute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	toolID, err := request.RequireString("tool_id")
	if err != nil || toolID == "" {
		return mcp.NewToolResultError("missing required parameter: tool_id"), nil
	}
	var params map[string]any
	if raw, ok := request.GetArguments()["params"]; ok && raw != nil {
		params, ok = raw.(map[string]any)
		if !ok {
			return mcp.NewToolResultError("params must be an object"), nil
		}
	}

	res, err := s.backend.ExecuteTool(ctx, request.GetString("session_id", ""), toolID, params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("工具执行失败: %v", err)), nil
	}
	return jsonResult(res)
}

// voxpilot_classify_reply
func (s *Server) classifyReplyTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("voxpilot_classify_reply",
		mcp.WithDescription("Classify a reply to a confirmation question as CONFIRM, CANCEL or RETRY (empty for an empty reply)."),
		mcp.WithString("text", mcp.Required(), mcp.Description("The user's reply")),
	)
	return tool, s.handleClassifyReply
}

func (s *Server) handleClassifyReply(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := request.GetString("text", "")
	return jsonResult(map[string]string{"intent": string(confirm.Classify(text))})
}

// voxpilot_list_tools
func (s *Server) listToolsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("voxpilot_list_tools",
		mcp.WithDescription("List the tools the backend can execute, with their request schemas."),
	)
	return tool, s.handleListTools
}

func (s *Server) handleListTools(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := s.backend.Tools(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tools: %v", err)), nil
	}
	if list == nil {
		list = []*models.Tool{}
	}
	return jsonResult(list)
}

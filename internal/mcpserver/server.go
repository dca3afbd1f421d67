package mcpserver

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/buildinfo"
)

// Server is the MCP stdio adapter. Each tool maps onto one envelope
// action on the daemon.
type Server struct {
	client *Client
	log    *slog.Logger
	mcp    *server.MCPServer
}

// New builds the adapter with its tool set registered.
func New(client *Client, logger *slog.Logger) *Server {
	s := &Server{client: client, log: logger}

	m := server.NewMCPServer(
		buildinfo.ServiceName,
		buildinfo.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	m.AddTool(storeTool(), s.handleStore)
	m.AddTool(searchTool(), s.handleSearch)
	m.AddTool(retrieveTool(), s.handleRetrieve)
	s.mcp = m
	return s
}

// Run serves MCP over stdio. Blocks until stdin closes.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcp)
}

func storeTool() mcp.Tool {
	return mcp.NewTool("memory_store",
		mcp.WithDescription("Store a long-term memory for the user. Returns the new memory id."),
		mcp.WithString("text", mcp.Required(),
			mcp.Description("The memory text to store (max 10000 characters).")),
		mcp.WithString("userId",
			mcp.Description("User the memory belongs to. Defaults to the service default user.")),
		mcp.WithString("type",
			mcp.Description("Record type, e.g. user_memory or command.")),
		mcp.WithString("sessionId",
			mcp.Description("Conversation session to associate with the memory.")),
	)
}

func searchTool() mcp.Tool {
	return mcp.NewTool("memory_search",
		mcp.WithDescription("Semantically search stored memories. Returns scored matches with entities."),
		mcp.WithString("query", mcp.Required(),
			mcp.Description("Natural-language search query.")),
		mcp.WithString("userId",
			mcp.Description("User whose memories to search.")),
		mcp.WithNumber("limit",
			mcp.Description("Maximum matches to return (default 10).")),
		mcp.WithNumber("minSimilarity",
			mcp.Description("Similarity floor in [0,1]; omit for the service default.")),
		mcp.WithString("type",
			mcp.Description("Restrict to one record type.")),
		mcp.WithString("sessionId",
			mcp.Description("Restrict to memories from one session.")),
	)
}

func retrieveTool() mcp.Tool {
	return mcp.NewTool("memory_retrieve",
		mcp.WithDescription("Fetch one memory by id, including its entities."),
		mcp.WithString("memoryId", mcp.Required(),
			mcp.Description("Identifier returned by memory_store or memory_search.")),
		mcp.WithString("userId",
			mcp.Description("User the memory belongs to.")),
	)
}

func (s *Server) handleStore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	payload := map[string]any{"text": text}
	if v := req.GetString("type", ""); v != "" {
		payload["type"] = v
	}
	if v := req.GetString("sessionId", ""); v != "" {
		payload["sessionId"] = v
	}
	return s.call(ctx, "memory.store", req.GetString("userId", ""), payload)
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	payload := map[string]any{"query": query}
	if v := req.GetFloat("limit", 0); v > 0 {
		payload["limit"] = int(v)
	}
	if v := req.GetFloat("minSimilarity", -1); v >= 0 {
		payload["minSimilarity"] = v
	}
	if v := req.GetString("type", ""); v != "" {
		payload["type"] = v
	}
	if v := req.GetString("sessionId", ""); v != "" {
		payload["sessionId"] = v
	}
	return s.call(ctx, "memory.search", req.GetString("userId", ""), payload)
}

func (s *Server) handleRetrieve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("memoryId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	payload := map[string]any{"id": id}
	return s.call(ctx, "memory.retrieve", req.GetString("userId", ""), payload)
}

// call delegates to the daemon and wraps the response for the MCP host.
// Daemon errors surface as tool errors, not protocol errors, so the host
// can show them to the model.
func (s *Server) call(ctx context.Context, action, userID string, payload any) (*mcp.CallToolResult, error) {
	data, err := s.client.Call(ctx, action, userID, payload)
	if err != nil {
		s.log.Warn("tool call failed", "action", action, "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

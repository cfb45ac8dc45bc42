// Package mcpserver exposes Kivuli tools over the Model Context
// Protocol on stdio, so agent frontends can execute sandboxed Python
// without touching the HTTP gateway.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/kivuli/internal/tools"
)

// Server wraps the MCP server and routes tool calls to the registry.
type Server struct {
	mcpServer *server.MCPServer
	registry  *tools.Registry
	logger    *slog.Logger
}

// New creates an MCP server exposing every registered tool.
// The logger writes to stderr to keep the stdio protocol clean.
func New(name, version string, registry *tools.Registry) *Server {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	s := &Server{
		mcpServer: server.NewMCPServer(name, version),
		registry:  registry,
		logger:    logger,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	for _, t := range s.registry.All() {
		schema := t.InputSchema()

		tool := mcp.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
			},
		}
		if props, ok := schema["properties"].(map[string]any); ok {
			tool.InputSchema.Properties = props
		}
		if required, ok := schema["required"].([]string); ok {
			tool.InputSchema.Required = required
		}

		s.mcpServer.AddTool(tool, s.createHandler(t))
	}
}

// createHandler routes one MCP tool call to the registry tool.
// Failures become tool-result errors, never protocol errors: the
// calling agent should see them and react.
func (s *Server) createHandler(t tools.Tool) func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, ok := request.Params.Arguments.(map[string]interface{})
		if !ok {
			return mcp.NewToolResultError("invalid arguments format"), nil
		}

		if err := t.Validate(args); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		result, err := t.Execute(ctx, args)
		if err != nil {
			s.logger.Error("tool execution failed",
				slog.String("tool", t.Name()),
				slog.String("error", err.Error()),
			)
			return mcp.NewToolResultError(fmt.Sprintf("execution failed: %v", err)), nil
		}

		if !result.Success {
			// The sandboxed code failed; surface its output alongside
			// the error so the agent can debug.
			return mcp.NewToolResultError(result.Output), nil
		}
		return textResponse(result.Output), nil
	}
}

// Serve runs the MCP server on stdio until the client disconnects.
func (s *Server) Serve() error {
	s.logger.Info("mcp server starting on stdio")
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func textResponse(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

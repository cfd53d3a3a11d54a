// Package mcpserver publishes owl's model-free toolkits (browser, search,
// document, excel, code) as an MCP server, so other agents can reuse them.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/germanamz/owl/pkg/chats/content"
	"github.com/germanamz/owl/pkg/tools/toolbox"
)

var emptyObject = json.RawMessage(`{"type":"object"}`)

// MCPServer answers MCP tool calls by dispatching them to tool boxes.
type MCPServer struct {
	server *mcp.Server
	names  []string
	logger *slog.Logger
}

func New(name, version string) *MCPServer {
	return &MCPServer{
		server: mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		logger: slog.Default().With("component", "mcpserver"),
	}
}

// Register publishes every tool in tbs. Calls go through ToolBox.Call, so
// results get the same truncation and panic handling agents see.
func (s *MCPServer) Register(tbs ...*toolbox.ToolBox) {
	for _, tb := range tbs {
		for _, t := range tb.Tools() {
			schema := t.InputSchema
			if len(schema) == 0 {
				schema = emptyObject
			}

			s.server.AddTool(&mcp.Tool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: schema,
			}, s.dispatch(tb, t.Name))
			s.names = append(s.names, t.Name)
		}
	}
}

// Names lists the published tools in registration order.
func (s *MCPServer) Names() []string { return append([]string(nil), s.names...) }

// Serve speaks MCP over in/out (stdio for `owl mcp`) until ctx ends or the
// client hangs up.
func (s *MCPServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.InfoContext(ctx, "serving tools", "count", len(s.names))

	return s.run(ctx, &mcp.IOTransport{
		Reader: io.NopCloser(in),
		Writer: nopWriteCloser{out},
	})
}

func (s *MCPServer) run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

func (s *MCPServer) dispatch(tb *toolbox.ToolBox, name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := tb.Call(ctx, content.ToolCall{
			ID:        uuid.NewString(),
			Name:      name,
			Arguments: string(req.Params.Arguments),
		})
		if res.IsError {
			s.logger.WarnContext(ctx, "tool failed", "tool", name, "error", res.Content)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: res.Content}},
			IsError: res.IsError,
		}, nil
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

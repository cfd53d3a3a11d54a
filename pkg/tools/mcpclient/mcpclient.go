// Package mcpclient imports tools from external MCP servers listed under
// mcp_servers, so the assistant can call them next to the built-in
// toolkits.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/germanamz/owl/pkg/tools/toolbox"
)

// ClientVersion is announced to servers during the handshake.
var ClientVersion = "dev"

// Server is one mcp_servers entry. Command starts a stdio subprocess; URL
// dials an SSE endpoint. Prefix, when set, is put in front of every tool
// name so imported tools cannot shadow the built-in ones.
type Server struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	URL     string
	Prefix  string
}

func (s Server) transport() (mcp.Transport, error) {
	switch {
	case s.Command != "":
		cmd := exec.Command(s.Command, s.Args...) //nolint:gosec // command comes from the operator's config
		if len(s.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range s.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		return &mcp.CommandTransport{Command: cmd}, nil
	case s.URL != "":
		return &mcp.SSEClientTransport{Endpoint: s.URL}, nil
	default:
		return nil, fmt.Errorf("mcpclient: server %q: command or url is required", s.Name)
	}
}

// MCPClient is an open session with one server.
type MCPClient struct {
	server  Server
	session *mcp.ClientSession
	logger  *slog.Logger
}

// Connect opens a session with s.
func Connect(ctx context.Context, s Server) (*MCPClient, error) {
	transport, err := s.transport()
	if err != nil {
		return nil, err
	}

	c, err := connect(ctx, s, transport)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: server %q: %w", s.Name, err)
	}

	return c, nil
}

func connect(ctx context.Context, s Server, transport mcp.Transport) (*MCPClient, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: "owl", Version: ClientVersion}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	return &MCPClient{
		server:  s,
		session: session,
		logger:  slog.Default().With("component", "mcpclient", "server", s.Name),
	}, nil
}

func (c *MCPClient) Name() string { return c.server.Name }

// ToolBox asks the server for its tools once. Handlers of the returned
// tools call back through this session.
func (c *MCPClient) ToolBox(ctx context.Context) (*toolbox.ToolBox, error) {
	list, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: list tools: %w", err)
	}

	tb := toolbox.New()
	for _, remote := range list.Tools {
		schema, err := json.Marshal(remote.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("mcpclient: tool %q: schema: %w", remote.Name, err)
		}

		name := remote.Name
		tb.Register(toolbox.Tool{
			Name:        c.server.Prefix + name,
			Description: remote.Description,
			InputSchema: schema,
			Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
				return c.CallTool(ctx, name, input)
			},
		})
	}

	c.logger.DebugContext(ctx, "imported tools", "tools", tb.Names())

	return tb, nil
}

// CallTool runs the server's tool name. A result flagged as an error comes
// back as a Go error carrying the server's text.
func (c *MCPClient) CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, error) {
	params := &mcp.CallToolParams{Name: name}
	if len(arguments) > 0 {
		params.Arguments = arguments
	}

	result, err := c.session.CallTool(ctx, params)
	if err != nil {
		return "", fmt.Errorf("mcpclient: call %s: %w", name, err)
	}

	text := resultText(result)
	if result.IsError {
		return "", fmt.Errorf("mcpclient: %s failed: %s", name, text)
	}

	return text, nil
}

// Close ends the session; stdio servers are stopped by the SDK.
func (c *MCPClient) Close() error {
	return c.session.Close()
}

// resultText flattens a tool result for the model. Binary content the
// model cannot read through a text tool result is replaced by a short note.
func resultText(result *mcp.CallToolResult) string {
	parts := make([]string, 0, len(result.Content))
	for _, item := range result.Content {
		switch v := item.(type) {
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s, %d bytes]", v.MIMEType, len(v.Data)))
		case *mcp.EmbeddedResource:
			if v.Resource != nil && v.Resource.Text != "" {
				parts = append(parts, v.Resource.Text)
			} else if v.Resource != nil {
				parts = append(parts, "[resource "+v.Resource.URI+"]")
			}
		}
	}

	return strings.Join(parts, "\n")
}

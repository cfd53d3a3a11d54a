package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/germanamz/owl/pkg/tools/toolbox"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// connectInMemory serves tools from an in-process MCP server and returns a
// client connected to it.
func connectInMemory(t *testing.T, prefix string, tools ...toolbox.Tool) *MCPClient {
	t.Helper()

	server := mcp.NewServer(&mcp.Implementation{Name: "test-server", Version: "1.0.0"}, nil)

	for _, tool := range tools {
		handler := tool.Handler
		server.AddTool(&mcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			result, err := handler(ctx, req.Params.Arguments)
			if err != nil {
				return &mcp.CallToolResult{
					Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
					IsError: true,
				}, nil
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: result}},
			}, nil
		})
	}

	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ctx, cancel := context.WithCancel(context.Background())

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Run(ctx, serverTransport)
	}()
	t.Cleanup(func() {
		cancel()
		<-serverDone
	})

	client, err := connect(ctx, Server{Name: "test", Prefix: prefix}, clientTransport)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func echoHandler(_ context.Context, input json.RawMessage) (string, error) {
	return string(input), nil
}

func TestToolBox(t *testing.T) {
	client := connectInMemory(t, "",
		toolbox.Tool{
			Name:        "wiki_lookup",
			Description: "Look up a page",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"title":{"type":"string"}}}`),
			Handler:     echoHandler,
		},
		toolbox.Tool{
			Name:        "weather",
			Description: "Current weather",
			InputSchema: json.RawMessage(`{"type":"object"}`),
			Handler:     echoHandler,
		},
	)

	tb, err := client.ToolBox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"weather", "wiki_lookup"}, tb.Names())

	lookup, ok := tb.Get("wiki_lookup")
	require.True(t, ok)
	assert.Equal(t, "Look up a page", lookup.Description)

	out, err := lookup.Handler(context.Background(), json.RawMessage(`{"title":"Go"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Go"}`, out)
}

func TestCallToolError(t *testing.T) {
	client := connectInMemory(t, "", toolbox.Tool{
		Name:        "fail",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler: func(context.Context, json.RawMessage) (string, error) {
			return "", errors.New("something went wrong")
		},
	})

	text, err := client.CallTool(context.Background(), "fail", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "something went wrong")
	assert.Empty(t, text)
}

func TestConnect_RequiresCommandOrURL(t *testing.T) {
	_, err := Connect(context.Background(), Server{Name: "empty"})
	assert.ErrorContains(t, err, `server "empty": command or url is required`)
}

func TestToolBox_Prefix(t *testing.T) {
	client := connectInMemory(t, "fs_", toolbox.Tool{
		Name:        "read_file",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler: func(context.Context, json.RawMessage) (string, error) {
			return "contents", nil
		},
	})

	tb, err := client.ToolBox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fs_read_file"}, tb.Names())

	read, _ := tb.Get("fs_read_file")
	out, err := read.Handler(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "contents", out)
	assert.Equal(t, "test", client.Name())
}

func TestResultText(t *testing.T) {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "a"},
			&mcp.ImageContent{MIMEType: "image/png", Data: []byte{1, 2, 3}},
			&mcp.EmbeddedResource{Resource: &mcp.ResourceContents{URI: "file:///notes.txt", Text: "b"}},
			&mcp.EmbeddedResource{Resource: &mcp.ResourceContents{URI: "file:///logo.png", Blob: []byte{1}}},
		},
	}

	assert.Equal(t, "a\n[image image/png, 3 bytes]\nb\n[resource file:///logo.png]", resultText(result))
	assert.Empty(t, resultText(&mcp.CallToolResult{}))
}

package mcpserver

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

func connect(t *testing.T, tbs ...*toolbox.ToolBox) *mcp.ClientSession {
	t.Helper()

	s := New("owl", "test")
	s.Register(tbs...)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.run(ctx, serverTransport) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

func TestServe_ListAndCall(t *testing.T) {
	tb := toolbox.New()
	tb.Register(toolbox.Tool{
		Name:        "search_wiki",
		Description: "Search Wikipedia",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"entity":{"type":"string"}}}`),
		Handler: func(_ context.Context, input json.RawMessage) (string, error) {
			var in struct {
				Entity string `json:"entity"`
			}
			if err := json.Unmarshal(input, &in); err != nil {
				return "", err
			}
			return "summary of " + in.Entity, nil
		},
	})

	session := connect(t, tb)

	list, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, list.Tools, 1)
	assert.Equal(t, "search_wiki", list.Tools[0].Name)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "search_wiki",
		Arguments: map[string]any{"entity": "Go"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "summary of Go", text.Text)
}

func TestServe_HandlerErrorIsToolError(t *testing.T) {
	tb := toolbox.New()
	tb.Register(toolbox.Tool{
		Name: "broken",
		Handler: func(context.Context, json.RawMessage) (string, error) {
			return "", errors.New("chrome not installed")
		},
	})

	session := connect(t, tb)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: "broken"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestServe_PanicIsToolError(t *testing.T) {
	tb := toolbox.New()
	tb.Register(toolbox.Tool{
		Name: "browser_click",
		Handler: func(context.Context, json.RawMessage) (string, error) {
			panic("target closed")
		},
	})

	session := connect(t, tb)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: "browser_click", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "tool panicked: target closed", text.Text)
}

func TestRegister_Names(t *testing.T) {
	search := toolbox.New()
	search.Register(toolbox.Tool{Name: "search_wiki"}, toolbox.Tool{Name: "search_duckduckgo"})
	excel := toolbox.New()
	excel.Register(toolbox.Tool{Name: "excel_extract"})

	s := New("owl", "test")
	s.Register(search, excel)

	assert.Equal(t, []string{"search_duckduckgo", "search_wiki", "excel_extract"}, s.Names())
}

package toolbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/germanamz/owl/pkg/chats/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(_ context.Context, input json.RawMessage) (string, error) {
	return string(input), nil
}

func newEchoTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: "Echoes input",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler:     echoHandler,
	}
}

func TestRegisterAndGet(t *testing.T) {
	tb := New()
	tb.Register(newEchoTool("echo"))

	got, ok := tb.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", got.Name)

	_, ok = tb.Get("missing")
	assert.False(t, ok)
}

func TestRegisterReplace(t *testing.T) {
	tb := New()
	tb.Register(Tool{Name: "tool", Description: "original", Handler: echoHandler})
	tb.Register(Tool{Name: "tool", Description: "replaced", Handler: echoHandler})

	got, ok := tb.Get("tool")
	require.True(t, ok)
	assert.Equal(t, "replaced", got.Description)
	assert.Len(t, tb.Tools(), 1)
}

func TestToolsSorted(t *testing.T) {
	tb := New()
	tb.Register(newEchoTool("web_search"), newEchoTool("excel_extract"), newEchoTool("image_analyze"))

	assert.Equal(t, []string{"excel_extract", "image_analyze", "web_search"}, tb.Names())
}

func TestToolsOrderMatchesNames(t *testing.T) {
	tb := New()
	tb.Register(newEchoTool("search_wiki"), newEchoTool("document_extract"))

	tools := tb.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "document_extract", tools[0].Name)
	assert.Equal(t, "search_wiki", tools[1].Name)
}

func TestCallSuccess(t *testing.T) {
	tb := New()
	tb.Register(newEchoTool("echo"))

	result := tb.Call(context.Background(), content.ToolCall{
		ID:        "call-1",
		Name:      "echo",
		Arguments: `{"msg":"hi"}`,
	})

	assert.Equal(t, "call-1", result.ToolCallID)
	assert.JSONEq(t, `{"msg":"hi"}`, result.Content)
	assert.False(t, result.IsError)
}

func TestCallEmptyArguments(t *testing.T) {
	tb := New()
	tb.Register(newEchoTool("echo"))

	result := tb.Call(context.Background(), content.ToolCall{ID: "1", Name: "echo"})
	assert.Equal(t, "{}", result.Content)
}

func TestCallNotFound(t *testing.T) {
	result := New().Call(context.Background(), content.ToolCall{ID: "call-2", Name: "missing"})

	assert.Equal(t, "call-2", result.ToolCallID)
	assert.Equal(t, "tool not found: missing", result.Content)
	assert.True(t, result.IsError)
}

func TestCallHandlerError(t *testing.T) {
	tb := New()
	tb.Register(Tool{
		Name: "fail",
		Handler: func(context.Context, json.RawMessage) (string, error) {
			return "", errors.New("tool failed")
		},
	})

	result := tb.Call(context.Background(), content.ToolCall{ID: "call-3", Name: "fail"})
	assert.Equal(t, "tool failed", result.Content)
	assert.True(t, result.IsError)
}

func TestCallHandlerPanic(t *testing.T) {
	tb := New()
	tb.Register(Tool{
		Name: "browser_click",
		Handler: func(context.Context, json.RawMessage) (string, error) {
			panic("target closed")
		},
	})

	result := tb.Call(context.Background(), content.ToolCall{ID: "call-4", Name: "browser_click"})
	assert.Equal(t, "tool panicked: target closed", result.Content)
	assert.True(t, result.IsError)
}

func TestCallTruncatesLargeResults(t *testing.T) {
	page := strings.Repeat("é", MaxResultBytes)
	tb := New()
	tb.Register(Tool{
		Name: "browser_extract",
		Handler: func(context.Context, json.RawMessage) (string, error) {
			return page, nil
		},
	})

	result := tb.Call(context.Background(), content.ToolCall{ID: "1", Name: "browser_extract"})
	assert.False(t, result.IsError)
	assert.LessOrEqual(t, len(result.Content), MaxResultBytes)
	assert.True(t, strings.HasSuffix(result.Content, "[output truncated]"))
	assert.True(t, utf8.ValidString(result.Content))
}

func TestClip(t *testing.T) {
	assert.Equal(t, "owl", Clip("owl", 3))
	assert.Equal(t, "ow", Clip("owl", 2))
	assert.Equal(t, "a", Clip("aé", 2))
	assert.Equal(t, "aé", Clip("aé", 3))
	assert.Equal(t, "", Clip("日本", 2))
	assert.Equal(t, "", Clip("owl", 0))
}

func TestDecode(t *testing.T) {
	type args struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}

	in, err := Decode[args]("search", json.RawMessage(`{"query":"owl","limit":3}`))
	require.NoError(t, err)
	assert.Equal(t, args{Query: "owl", Limit: 3}, in)

	in, err = Decode[args]("search", nil)
	require.NoError(t, err)
	assert.Equal(t, args{}, in)

	_, err = Decode[args]("search", json.RawMessage(`{"limit":"three"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search: invalid input")
}

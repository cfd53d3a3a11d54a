package message

import (
	"testing"

	"github.com/germanamz/owl/pkg/chats/content"
	"github.com/germanamz/owl/pkg/chats/role"
	"github.com/stretchr/testify/assert"
)

func TestNewText(t *testing.T) {
	msg := NewText("assistant", role.Assistant, "Solution: done")

	assert.Equal(t, "assistant", msg.Sender)
	assert.Equal(t, role.Assistant, msg.Role)
	assert.Equal(t, "Solution: done", msg.TextContent())
}

func TestTextContent_SkipsNonText(t *testing.T) {
	msg := New("user", role.User,
		content.Text{Text: "look at "},
		content.Image{URL: "img.png"},
		content.Text{Text: "this"},
	)

	assert.Equal(t, "look at this", msg.TextContent())
	assert.True(t, msg.HasImages())
}

func TestToolCalls(t *testing.T) {
	tc := content.ToolCall{ID: "1", Name: "search_duckduckgo", Arguments: `{"query":"go"}`}
	msg := New("assistant", role.Assistant, content.Text{Text: "searching"}, tc)

	assert.Equal(t, []content.ToolCall{tc}, msg.ToolCalls())
	assert.False(t, msg.HasImages())
}

func TestToolCalls_None(t *testing.T) {
	assert.Empty(t, NewText("user", role.User, "hi").ToolCalls())
}

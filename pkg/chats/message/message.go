// Package message defines the Message type used in LLM conversations.
package message

import (
	"strings"

	"github.com/germanamz/owl/pkg/chats/content"
	"github.com/germanamz/owl/pkg/chats/role"
)

// Message is a single entry in a conversation. It is a value type.
type Message struct {
	Sender string
	Role   role.Role
	Parts  []content.Part
}

// New creates a message with the given sender, role, and content parts.
func New(sender string, r role.Role, parts ...content.Part) Message {
	return Message{
		Sender: sender,
		Role:   r,
		Parts:  parts,
	}
}

// NewText creates a message with a single Text part.
func NewText(sender string, r role.Role, text string) Message {
	return New(sender, r, content.Text{Text: text})
}

// TextContent concatenates the text of all Text parts in the message.
func (m Message) TextContent() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(content.Text); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// ToolCalls returns all ToolCall parts in the message.
func (m Message) ToolCalls() []content.ToolCall {
	var calls []content.ToolCall
	for _, p := range m.Parts {
		if tc, ok := p.(content.ToolCall); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// HasImages reports whether the message carries at least one Image part.
func (m Message) HasImages() bool {
	for _, p := range m.Parts {
		if _, ok := p.(content.Image); ok {
			return true
		}
	}
	return false
}

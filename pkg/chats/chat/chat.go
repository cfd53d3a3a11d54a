// Package chat holds the message log of one agent. Agents only ever append;
// providers read the log to build a request.
package chat

import (
	"github.com/germanamz/owl/pkg/chats/message"
	"github.com/germanamz/owl/pkg/chats/role"
)

// Chat is an append-only message log. The zero value is empty and usable.
// It is not safe for concurrent use; each agent owns its own Chat.
type Chat struct {
	messages []message.Message
}

// New returns a Chat seeded with msgs, typically a system prompt and a
// first user message for one-shot completions.
func New(msgs ...message.Message) *Chat {
	return &Chat{messages: msgs}
}

func (c *Chat) Append(msgs ...message.Message) {
	c.messages = append(c.messages, msgs...)
}

func (c *Chat) Len() int { return len(c.messages) }

// Last returns the newest message, or false for an empty log.
func (c *Chat) Last() (message.Message, bool) {
	if n := len(c.messages); n > 0 {
		return c.messages[n-1], true
	}
	return message.Message{}, false
}

// Messages returns the whole log. The slice is a copy.
func (c *Chat) Messages() []message.Message {
	return c.Since(0)
}

// Since returns a copy of the messages appended at or after position mark,
// where mark is a value previously returned by Len. It lets a caller look at
// what one agent step added.
func (c *Chat) Since(mark int) []message.Message {
	mark = min(max(mark, 0), len(c.messages))
	out := make([]message.Message, len(c.messages)-mark)
	copy(out, c.messages[mark:])
	return out
}

// SystemPrompt returns the text of the first system message, if any.
func (c *Chat) SystemPrompt() string {
	for _, m := range c.messages {
		if m.Role == role.System {
			return m.TextContent()
		}
	}
	return ""
}

func (c *Chat) CountRole(r role.Role) int {
	n := 0
	for _, m := range c.messages {
		if m.Role == r {
			n++
		}
	}
	return n
}

// ToolCallsSince counts the tool calls requested by messages at or after
// mark.
func (c *Chat) ToolCallsSince(mark int) int {
	n := 0
	for _, m := range c.Since(mark) {
		n += len(m.ToolCalls())
	}
	return n
}

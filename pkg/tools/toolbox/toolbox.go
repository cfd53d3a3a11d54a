// Package toolbox holds the tools an agent may call and dispatches the
// model's tool calls to them.
package toolbox

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/germanamz/owl/pkg/chats/content"
)

// MaxResultBytes bounds the text of one tool result. Extracted web pages and
// spreadsheets easily exceed what is worth sending back to the model.
const MaxResultBytes = 64 << 10

const truncatedNote = "\n\n[output truncated]"

// ToolBox is one toolkit's set of tools. Registration is not concurrent
// safe; Call is.
type ToolBox struct {
	tools map[string]Tool
}

func New() *ToolBox {
	return &ToolBox{tools: make(map[string]Tool)}
}

// Register adds tools; a tool replaces an earlier one of the same name.
func (tb *ToolBox) Register(tools ...Tool) {
	for _, t := range tools {
		tb.tools[t.Name] = t
	}
}

func (tb *ToolBox) Get(name string) (Tool, bool) {
	t, ok := tb.tools[name]
	return t, ok
}

// Tools lists the tools ordered by name so requests to the model are stable.
func (tb *ToolBox) Tools() []Tool {
	out := make([]Tool, 0, len(tb.tools))
	for _, name := range tb.Names() {
		out = append(out, tb.tools[name])
	}
	return out
}

// Names lists tool names in order.
func (tb *ToolBox) Names() []string {
	names := make([]string, 0, len(tb.tools))
	for name := range tb.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Call runs tc. Unknown tools, handler errors and handler panics come back
// as results with IsError set, so the model sees the failure and can try
// something else.
func (tb *ToolBox) Call(ctx context.Context, tc content.ToolCall) content.ToolResult {
	res := content.ToolResult{ToolCallID: tc.ID}

	t, ok := tb.tools[tc.Name]
	if !ok {
		res.Content, res.IsError = "tool not found: "+tc.Name, true
		return res
	}

	args := json.RawMessage(tc.Arguments)
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	out, err := invoke(ctx, t.Handler, args)
	if err != nil {
		res.Content, res.IsError = err.Error(), true
		return res
	}

	res.Content = truncate(out)
	return res
}

func invoke(ctx context.Context, h Handler, args json.RawMessage) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()

	return h(ctx, args)
}

func truncate(s string) string {
	if len(s) <= MaxResultBytes {
		return s
	}
	return Clip(s, MaxResultBytes-len(truncatedNote)) + truncatedNote
}

// Clip cuts s to at most max bytes without splitting a UTF-8 sequence.
func Clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 0 {
		return ""
	}

	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return strings.Clone(s[:cut])
}

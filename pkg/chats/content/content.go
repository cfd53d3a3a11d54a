// Package content defines the parts a message is made of.
package content

import (
	"encoding/base64"
	"strings"
)

// Part is a piece of content within a message.
type Part interface {
	PartKind() string
}

// Text is a plain text content part.
type Text struct {
	Text string
}

func (t Text) PartKind() string { return "text" }

// Image is an image referenced by URL or embedded as raw bytes. When Data is
// set it takes precedence over URL.
type Image struct {
	URL       string
	Data      []byte
	MediaType string
}

func (i Image) PartKind() string { return "image" }

// Source returns a URL usable in an OpenAI-style image_url field. Embedded
// data is encoded as a base64 data URL.
func (i Image) Source() string {
	if len(i.Data) == 0 {
		return i.URL
	}

	mt := i.MediaType
	if mt == "" {
		mt = "image/png"
	}

	var b strings.Builder
	b.WriteString("data:")
	b.WriteString(mt)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(i.Data))

	return b.String()
}

// ToolCall is an assistant's request to invoke a tool. Arguments holds the
// raw JSON string as produced by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
	Metadata  map[string]string // Provider-specific data echoed back on the next request.
}

func (tc ToolCall) PartKind() string { return "tool_call" }

// ToolResult holds the output of a tool invocation.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

func (tr ToolResult) PartKind() string { return "tool_result" }

// Package anthropic provides a Completer for the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/germanamz/owl/pkg/chats/chat"
	"github.com/germanamz/owl/pkg/chats/content"
	"github.com/germanamz/owl/pkg/chats/message"
	"github.com/germanamz/owl/pkg/chats/role"
	"github.com/germanamz/owl/pkg/modeladapter"
	"github.com/germanamz/owl/pkg/modeladapter/usage"
	"github.com/germanamz/owl/pkg/tools/toolbox"
)

// DefaultBaseURL includes the version segment.
const DefaultBaseURL = "https://api.anthropic.com/v1"

// APIVersion is sent as the anthropic-version header.
const APIVersion = "2023-06-01"

const messagesPath = "/messages"

var _ modeladapter.Completer = (*Adapter)(nil)

// Adapter implements modeladapter.Completer for the Messages API.
type Adapter struct {
	modeladapter.ModelAdapter
}

// New creates an Adapter. baseURL has no trailing slash.
func New(baseURL, apiKey, model string) *Adapter {
	a := &Adapter{}
	a.BaseURL = strings.TrimSuffix(baseURL, "/")
	a.Auth = modeladapter.Auth{
		Key:    apiKey,
		Header: "x-api-key",
	}
	a.Name = model
	a.MaxTokens = 4096
	a.Headers = map[string]string{
		"anthropic-version": APIVersion,
	}
	a.HeaderParser = modeladapter.ParseAnthropicRateLimitHeaders

	return a
}

// Complete sends the conversation and returns the assistant's reply.
func (a *Adapter) Complete(ctx context.Context, c *chat.Chat, tools []toolbox.Tool) (message.Message, error) {
	req := a.buildRequest(c, tools)

	var resp apiResponse
	if err := a.PostJSON(ctx, messagesPath, req, &resp); err != nil {
		return message.Message{}, fmt.Errorf("anthropic: %w", err)
	}

	if resp.Error != nil {
		return message.Message{}, fmt.Errorf("anthropic: %s: %s", resp.Error.Type, resp.Error.Message)
	}

	a.Usage.Add(usage.TokenCount{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	})

	return a.parseResponse(resp), nil
}

// --- request types ---

type apiRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	System      string       `json:"system,omitempty"`
	Messages    []apiMessage `json:"messages"`
	Temperature *float64     `json:"temperature,omitempty"`
	TopP        *float64     `json:"top_p,omitempty"`
	Tools       []apiToolDef `json:"tools,omitempty"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Source    *apiImageSource `json:"source,omitempty"`
}

// apiImageSource is either {type: base64, media_type, data} or {type: url, url}.
type apiImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type apiToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// --- response types ---

type apiResponse struct {
	Content    []apiContent `json:"content"`
	StopReason string       `json:"stop_reason"`
	Usage      apiUsage     `json:"usage"`
	Error      *apiError    `json:"error,omitempty"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- conversion helpers ---

func (a *Adapter) buildRequest(c *chat.Chat, tools []toolbox.Tool) apiRequest {
	req := apiRequest{
		Model:       a.Name,
		MaxTokens:   a.MaxTokens,
		System:      c.SystemPrompt(),
		Temperature: a.Temperature,
		TopP:        a.TopP,
	}

	// The Messages API rejects requests that set both.
	if req.Temperature != nil && req.TopP != nil {
		req.TopP = nil
	}

	if len(tools) > 0 {
		req.Tools = make([]apiToolDef, len(tools))
		for i, t := range tools {
			schema := t.InputSchema
			if len(schema) == 0 {
				schema = json.RawMessage(`{"type":"object"}`)
			}
			req.Tools[i] = apiToolDef{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: schema,
			}
		}
	}

	for _, m := range c.Messages() {
		if m.Role == role.System {
			continue
		}
		req.Messages = appendMessage(req.Messages, m)
	}

	return req
}

// appendMessage adds m's parts, merging consecutive same-role messages
// because the API requires alternating roles.
func appendMessage(msgs []apiMessage, m message.Message) []apiMessage {
	msgRole := m.Role.Turn("assistant")

	for _, p := range m.Parts {
		block, ok := partToBlock(p)
		if !ok {
			continue
		}

		if n := len(msgs); n > 0 && msgs[n-1].Role == msgRole {
			msgs[n-1].Content = append(msgs[n-1].Content, block)
			continue
		}

		msgs = append(msgs, apiMessage{Role: msgRole, Content: []apiContent{block}})
	}

	return msgs
}

func partToBlock(p content.Part) (apiContent, bool) {
	switch v := p.(type) {
	case content.Text:
		return apiContent{Type: "text", Text: v.Text}, true
	case content.Image:
		return apiContent{Type: "image", Source: imageSource(v)}, true
	case content.ToolCall:
		input := json.RawMessage(v.Arguments)
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		return apiContent{Type: "tool_use", ID: v.ID, Name: v.Name, Input: input}, true
	case content.ToolResult:
		return apiContent{Type: "tool_result", ToolUseID: v.ToolCallID, Content: v.Content, IsError: v.IsError}, true
	}
	return apiContent{}, false
}

func imageSource(img content.Image) *apiImageSource {
	if len(img.Data) == 0 {
		return &apiImageSource{Type: "url", URL: img.URL}
	}

	mt := img.MediaType
	if mt == "" {
		mt = "image/png"
	}

	return &apiImageSource{
		Type:      "base64",
		MediaType: mt,
		Data:      base64.StdEncoding.EncodeToString(img.Data),
	}
}

func (a *Adapter) parseResponse(resp apiResponse) message.Message {
	var parts []content.Part

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			parts = append(parts, content.Text{Text: block.Text})
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			parts = append(parts, content.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}

	return message.New(a.Name, role.Assistant, parts...)
}

// Package openai provides a Completer for OpenAI-compatible Chat Completions
// APIs, including OpenRouter.
package openai

import (
	"context"
	"encoding/json"
	"errors"
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

// CompletionsPath is appended to the base URL. Base URLs carry their own
// version segment, e.g. https://openrouter.ai/api/v1.
const CompletionsPath = "/chat/completions"

var _ modeladapter.Completer = (*Adapter)(nil)

// Adapter implements modeladapter.Completer for Chat Completions.
type Adapter struct {
	modeladapter.ModelAdapter
}

// New creates an Adapter. baseURL has no trailing slash.
func New(baseURL, apiKey, model string) *Adapter {
	a := &Adapter{}
	a.BaseURL = strings.TrimSuffix(baseURL, "/")
	a.Auth = modeladapter.Auth{Key: apiKey}
	a.Name = model
	a.MaxTokens = 4096
	a.HeaderParser = modeladapter.ParseOpenRouterRateLimitHeaders

	return a
}

// Complete sends the conversation and returns the assistant's reply.
func (a *Adapter) Complete(ctx context.Context, c *chat.Chat, tools []toolbox.Tool) (message.Message, error) {
	req := a.buildRequest(c, tools)

	var resp apiResponse
	if err := a.PostJSON(ctx, CompletionsPath, req, &resp); err != nil {
		return message.Message{}, fmt.Errorf("openai: %w", err)
	}

	if resp.Error != nil {
		return message.Message{}, fmt.Errorf("openai: %s (code %v)", resp.Error.Message, resp.Error.Code)
	}

	a.Usage.Add(usage.TokenCount{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	})

	if len(resp.Choices) == 0 {
		return message.Message{}, errors.New("openai: empty choices in response")
	}

	return a.parseChoice(resp.Choices[0])
}

// --- request types ---

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	TopP        *float64     `json:"top_p,omitempty"`
	Tools       []apiToolDef `json:"tools,omitempty"`
}

// apiMessage.Content is a *string for plain messages and []apiContentPart
// for multimodal user messages.
type apiMessage struct {
	Role       string        `json:"role"`
	Content    any           `json:"content"`
	ToolCalls  []apiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type apiContentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *apiImageURL `json:"image_url,omitempty"`
}

type apiImageURL struct {
	URL string `json:"url"`
}

type apiToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function apiToolFunction `json:"function"`
}

type apiToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type apiToolDef struct {
	Type     string         `json:"type"`
	Function apiToolDefFunc `json:"function"`
}

type apiToolDefFunc struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// --- response types ---

type apiResponse struct {
	Choices []apiChoice `json:"choices"`
	Usage   apiUsage    `json:"usage"`
	Error   *apiError   `json:"error,omitempty"`
}

// apiError appears in 200 responses when OpenRouter's upstream fails.
type apiError struct {
	Message string `json:"message"`
	Code    any    `json:"code"`
}

type apiChoice struct {
	Message      apiRespMessage `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type apiRespMessage struct {
	Role      string        `json:"role"`
	Content   *string       `json:"content"`
	ToolCalls []apiToolCall `json:"tool_calls,omitempty"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// --- conversion helpers ---

func (a *Adapter) buildRequest(c *chat.Chat, tools []toolbox.Tool) apiRequest {
	req := apiRequest{
		Model:       a.Name,
		MaxTokens:   a.MaxTokens,
		Temperature: a.Temperature,
		TopP:        a.TopP,
	}

	if len(tools) > 0 {
		req.Tools = make([]apiToolDef, len(tools))
		for i, t := range tools {
			schema := t.InputSchema
			if len(schema) == 0 {
				schema = json.RawMessage(`{"type":"object"}`)
			}
			req.Tools[i] = apiToolDef{
				Type: "function",
				Function: apiToolDefFunc{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  schema,
				},
			}
		}
	}

	for _, m := range c.Messages() {
		req.Messages = appendMessages(req.Messages, m)
	}

	return req
}

func appendMessages(msgs []apiMessage, m message.Message) []apiMessage {
	switch m.Role {
	case role.System:
		text := m.TextContent()
		return append(msgs, apiMessage{Role: "system", Content: &text})

	case role.User:
		if m.HasImages() {
			return append(msgs, apiMessage{Role: "user", Content: multimodalParts(m)})
		}
		text := m.TextContent()
		return append(msgs, apiMessage{Role: "user", Content: &text})

	case role.Assistant:
		msg := apiMessage{Role: "assistant"}

		if text := m.TextContent(); text != "" {
			msg.Content = &text
		}

		for _, tc := range m.ToolCalls() {
			msg.ToolCalls = append(msg.ToolCalls, apiToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: apiToolFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}

		return append(msgs, msg)

	case role.Tool:
		for _, p := range m.Parts {
			if tr, ok := p.(content.ToolResult); ok {
				text := tr.Content
				msgs = append(msgs, apiMessage{
					Role:       "tool",
					Content:    &text,
					ToolCallID: tr.ToolCallID,
				})
			}
		}
	}

	return msgs
}

func multimodalParts(m message.Message) []apiContentPart {
	parts := make([]apiContentPart, 0, len(m.Parts))

	for _, p := range m.Parts {
		switch v := p.(type) {
		case content.Text:
			parts = append(parts, apiContentPart{Type: "text", Text: v.Text})
		case content.Image:
			parts = append(parts, apiContentPart{Type: "image_url", ImageURL: &apiImageURL{URL: v.Source()}})
		}
	}

	return parts
}

func (a *Adapter) parseChoice(choice apiChoice) (message.Message, error) {
	r := role.Assistant
	if choice.Message.Role != "" {
		parsed, err := role.Parse(choice.Message.Role)
		if err != nil {
			return message.Message{}, fmt.Errorf("openai: %w", err)
		}
		r = parsed
	}

	var parts []content.Part

	if choice.Message.Content != nil && *choice.Message.Content != "" {
		parts = append(parts, content.Text{Text: *choice.Message.Content})
	}

	for _, tc := range choice.Message.ToolCalls {
		parts = append(parts, content.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return message.New(a.Name, r, parts...), nil
}

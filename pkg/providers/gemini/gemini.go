// Package gemini provides a Completer for the Google Gemini generateContent
// API.
package gemini

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
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

// DefaultBaseURL includes the version segment.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

const thoughtSignature = "thoughtSignature"

var _ modeladapter.Completer = (*Adapter)(nil)

// Adapter implements modeladapter.Completer for Gemini.
type Adapter struct {
	modeladapter.ModelAdapter
}

// New creates an Adapter. baseURL has no trailing slash.
func New(baseURL, apiKey, model string) *Adapter {
	a := &Adapter{}
	a.BaseURL = strings.TrimSuffix(baseURL, "/")
	a.Auth = modeladapter.Auth{
		Key:    apiKey,
		Header: "x-goog-api-key",
	}
	a.Name = model
	a.MaxTokens = 8192

	// Gemini sends no rate limit headers, so HeaderParser stays nil and
	// RateLimitedCompleter only throttles proactively.

	return a
}

// Complete sends the conversation and returns the assistant's reply.
func (a *Adapter) Complete(ctx context.Context, c *chat.Chat, tools []toolbox.Tool) (message.Message, error) {
	req := a.buildRequest(c, tools)
	path := fmt.Sprintf("/models/%s:generateContent", a.Name)

	var resp apiResponse
	if err := a.PostJSON(ctx, path, req, &resp); err != nil {
		return message.Message{}, fmt.Errorf("gemini: %w", err)
	}

	a.Usage.Add(usage.TokenCount{
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
	})

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback.BlockReason != "" {
			return message.Message{}, fmt.Errorf("gemini: prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return message.Message{}, errors.New("gemini: empty candidates in response")
	}

	return a.parseCandidate(resp.Candidates[0]), nil
}

// --- request types ---

type apiRequest struct {
	Contents          []apiContent     `json:"contents"`
	SystemInstruction *apiContent      `json:"systemInstruction,omitempty"`
	Tools             []apiToolSet     `json:"tools,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type apiContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []apiPart `json:"parts"`
}

type apiPart struct {
	Text             string           `json:"text,omitempty"`
	InlineData       *apiBlob         `json:"inlineData,omitempty"`
	FileData         *apiFileData     `json:"fileData,omitempty"`
	FunctionCall     *apiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *apiFunctionResp `json:"functionResponse,omitempty"`
	ThoughtSignature string           `json:"thoughtSignature,omitempty"`
}

type apiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type apiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type apiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type apiFunctionResp struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type apiToolSet struct {
	FunctionDeclarations []apiFuncDecl `json:"functionDeclarations"`
}

type apiFuncDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

// --- response types ---

type apiResponse struct {
	Candidates     []apiCandidate    `json:"candidates"`
	UsageMetadata  apiUsageMeta      `json:"usageMetadata"`
	PromptFeedback apiPromptFeedback `json:"promptFeedback"`
}

type apiCandidate struct {
	Content      apiContent `json:"content"`
	FinishReason string     `json:"finishReason"`
}

type apiUsageMeta struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type apiPromptFeedback struct {
	BlockReason string `json:"blockReason"`
}

// --- conversion helpers ---

func (a *Adapter) buildRequest(c *chat.Chat, tools []toolbox.Tool) apiRequest {
	req := apiRequest{
		GenerationConfig: generationConfig{
			Temperature:     a.Temperature,
			TopP:            a.TopP,
			MaxOutputTokens: a.MaxTokens,
		},
	}

	if len(tools) > 0 {
		decls := make([]apiFuncDecl, len(tools))
		for i, t := range tools {
			schema := t.InputSchema
			if len(schema) == 0 {
				schema = json.RawMessage(`{"type":"object"}`)
			}
			decls[i] = apiFuncDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  sanitizeSchema(schema),
			}
		}
		req.Tools = []apiToolSet{{FunctionDeclarations: decls}}
	}

	if sp := c.SystemPrompt(); sp != "" {
		req.SystemInstruction = &apiContent{Parts: []apiPart{{Text: sp}}}
	}

	// functionResponse needs the function name; ToolResult only has the ID.
	names := make(map[string]string)
	for _, m := range c.Messages() {
		for _, tc := range m.ToolCalls() {
			names[tc.ID] = tc.Name
		}
	}

	for _, m := range c.Messages() {
		if m.Role == role.System {
			continue
		}
		req.Contents = appendContent(req.Contents, m, names)
	}

	return req
}

// appendContent adds m's parts, merging consecutive same-role contents
// because Gemini requires alternating roles. Tool results whose call is no
// longer in the history are dropped.
func appendContent(contents []apiContent, m message.Message, names map[string]string) []apiContent {
	apiRole := m.Role.Turn("model")

	for _, p := range m.Parts {
		part, ok := toAPIPart(p, names)
		if !ok {
			continue
		}

		if n := len(contents); n > 0 && contents[n-1].Role == apiRole {
			contents[n-1].Parts = append(contents[n-1].Parts, part)
			continue
		}

		contents = append(contents, apiContent{Role: apiRole, Parts: []apiPart{part}})
	}

	return contents
}

func toAPIPart(p content.Part, names map[string]string) (apiPart, bool) {
	switch v := p.(type) {
	case content.Text:
		return apiPart{Text: v.Text}, true

	case content.Image:
		if len(v.Data) == 0 {
			return apiPart{FileData: &apiFileData{MimeType: v.MediaType, FileURI: v.URL}}, true
		}
		mt := v.MediaType
		if mt == "" {
			mt = "image/png"
		}
		return apiPart{InlineData: &apiBlob{MimeType: mt, Data: base64.StdEncoding.EncodeToString(v.Data)}}, true

	case content.ToolCall:
		args := json.RawMessage(v.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		return apiPart{
			FunctionCall:     &apiFunctionCall{Name: v.Name, Args: args},
			ThoughtSignature: v.Metadata[thoughtSignature],
		}, true

	case content.ToolResult:
		name := names[v.ToolCallID]
		if name == "" {
			return apiPart{}, false
		}
		return apiPart{
			FunctionResponse: &apiFunctionResp{Name: name, Response: functionResponse(v.Content)},
		}, true
	}

	return apiPart{}, false
}

// functionResponse wraps tool output as {"result": ...}, embedding it raw
// when it is valid JSON.
func functionResponse(out string) json.RawMessage {
	if json.Valid([]byte(out)) {
		return json.RawMessage(`{"result":` + out + `}`)
	}
	b, _ := json.Marshal(out)
	return json.RawMessage(`{"result":` + string(b) + `}`)
}

// sanitizeSchema removes JSON Schema keywords Gemini rejects ($schema,
// additionalProperties) at every level.
func sanitizeSchema(raw json.RawMessage) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}

	delete(obj, "$schema")
	delete(obj, "additionalProperties")

	if props, ok := obj["properties"]; ok {
		var propMap map[string]json.RawMessage
		if err := json.Unmarshal(props, &propMap); err == nil {
			for k, v := range propMap {
				propMap[k] = sanitizeSchema(v)
			}
			if b, err := json.Marshal(propMap); err == nil {
				obj["properties"] = b
			}
		}
	}

	if items, ok := obj["items"]; ok {
		obj["items"] = sanitizeSchema(items)
	}

	b, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return b
}

// callID synthesises an ID; Gemini does not return call IDs.
func callID(name string) string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return "call_" + name + "_" + hex.EncodeToString(b)
}

func (a *Adapter) parseCandidate(cand apiCandidate) message.Message {
	var parts []content.Part

	for _, p := range cand.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			args := string(p.FunctionCall.Args)
			if args == "" || args == "null" {
				args = "{}"
			}
			tc := content.ToolCall{
				ID:        callID(p.FunctionCall.Name),
				Name:      p.FunctionCall.Name,
				Arguments: args,
			}
			if p.ThoughtSignature != "" {
				tc.Metadata = map[string]string{thoughtSignature: p.ThoughtSignature}
			}
			parts = append(parts, tc)
		case p.Text != "":
			parts = append(parts, content.Text{Text: p.Text})
		}
	}

	return message.New(a.Name, role.Assistant, parts...)
}

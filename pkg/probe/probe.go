// Package probe checks that the configured endpoint accepts the key before a
// long society run starts.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/germanamz/owl/pkg/providers/openaisdk"
	openai "github.com/sashabaranov/go-openai"
)

// Defaults for the connectivity check.
const (
	DefaultModel  = "openai/gpt-3.5-turbo"
	DefaultPrompt = "Hello! Please respond with 'OpenRouter is working!'"
)

// Options configures Check.
type Options struct {
	BaseURL    string
	Key        string
	Model      string
	Prompt     string
	Headers    map[string]string
	HTTPClient *http.Client
}

// Check sends a single chat completion and returns the reply text.
func Check(ctx context.Context, opts Options) (string, error) {
	if opts.Key == "" {
		return "", errors.New("probe: api key is empty")
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}

	client := openaisdk.NewClient(opts.Key, opts.BaseURL, opts.Headers, opts.HTTPClient)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: opts.Prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("probe: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("probe: empty choices in response")
	}

	return resp.Choices[0].Message.Content, nil
}

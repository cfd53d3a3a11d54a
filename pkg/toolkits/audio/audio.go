// Package audio transcribes audio through an OpenAI-compatible
// transcription endpoint and answers questions about the transcript.
package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/germanamz/owl/pkg/chats/chat"
	"github.com/germanamz/owl/pkg/chats/message"
	"github.com/germanamz/owl/pkg/chats/role"
	"github.com/germanamz/owl/pkg/modeladapter"
	"github.com/germanamz/owl/pkg/tools/toolbox"
)

const (
	DefaultModel  = openai.Whisper1
	maxAudioBytes = 25 << 20
	systemPrompt  = "You answer questions about an audio recording using only its transcript. Say so when the transcript does not contain the answer."
)

// Transcriber is the subset of the go-openai client used here.
type Transcriber interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// Option configures an Audio toolkit.
type Option func(*Audio)

// WithModel sets the transcription model.
func WithModel(model string) Option {
	return func(a *Audio) {
		if model != "" {
			a.model = model
		}
	}
}

// WithHTTPClient sets the client used to download remote audio.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Audio) { a.client = c }
}

// Audio is the audio analysis toolkit.
type Audio struct {
	transcriber Transcriber
	completer   modeladapter.Completer
	model       string
	client      *http.Client
}

// New creates an Audio toolkit. completer answers audio_question.
func New(transcriber Transcriber, completer modeladapter.Completer, opts ...Option) *Audio {
	a := &Audio{
		transcriber: transcriber,
		completer:   completer,
		model:       DefaultModel,
		client:      &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Tools returns a ToolBox containing audio_transcribe and audio_question.
func (a *Audio) Tools() *toolbox.ToolBox {
	tb := toolbox.New()
	tb.Register(a.transcribeTool(), a.questionTool())
	return tb
}

type transcribeInput struct {
	Audio string `json:"audio"`
}

type questionInput struct {
	Audio    string `json:"audio"`
	Question string `json:"question"`
}

func (a *Audio) transcribeTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "audio_transcribe",
		Description: "Transcribe an audio file (local path or http(s) URL; mp3, wav, m4a, webm) to text.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"audio":{"type":"string","description":"Audio file path or URL"}},"required":["audio"]}`),
		Handler:     a.handleTranscribe,
	}
}

func (a *Audio) questionTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "audio_question",
		Description: "Answer a question about an audio file. The audio is transcribed first and the answer is based on the transcript.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"audio":{"type":"string","description":"Audio file path or URL"},"question":{"type":"string","description":"Question about the recording"}},"required":["audio","question"]}`),
		Handler:     a.handleQuestion,
	}
}

func (a *Audio) handleTranscribe(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := toolbox.Decode[transcribeInput]("audio_transcribe", input)
	if err != nil {
		return "", err
	}

	if in.Audio == "" {
		return "", fmt.Errorf("audio_transcribe: audio is required")
	}

	text, err := a.Transcribe(ctx, in.Audio)
	if err != nil {
		return "", fmt.Errorf("audio_transcribe: %w", err)
	}

	return text, nil
}

func (a *Audio) handleQuestion(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := toolbox.Decode[questionInput]("audio_question", input)
	if err != nil {
		return "", err
	}

	if in.Audio == "" || in.Question == "" {
		return "", fmt.Errorf("audio_question: audio and question are required")
	}

	transcript, err := a.Transcribe(ctx, in.Audio)
	if err != nil {
		return "", fmt.Errorf("audio_question: %w", err)
	}

	c := chat.New(
		message.NewText("", role.System, systemPrompt),
		message.NewText("user", role.User, fmt.Sprintf("Transcript:\n%s\n\nQuestion: %s", transcript, in.Question)),
	)

	reply, err := a.completer.Complete(ctx, c, nil)
	if err != nil {
		return "", fmt.Errorf("audio_question: %w", err)
	}

	return reply.TextContent(), nil
}

// Transcribe returns the transcript of a local file or URL.
func (a *Audio) Transcribe(ctx context.Context, source string) (string, error) {
	req := openai.AudioRequest{Model: a.model, FilePath: source}

	if u, err := url.Parse(source); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		body, err := a.download(ctx, source)
		if err != nil {
			return "", err
		}
		defer body.Close()

		name := path.Base(u.Path)
		if name == "" || name == "/" || name == "." {
			name = "audio.mp3"
		}
		req.FilePath = name
		req.Reader = io.LimitReader(body, maxAudioBytes)
	}

	resp, err := a.transcriber.CreateTranscription(ctx, req)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}

	return resp.Text, nil
}

func (a *Audio) download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}

	return resp.Body, nil
}

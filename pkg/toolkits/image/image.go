// Package image answers questions about images using a vision-capable model.
package image

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/germanamz/owl/pkg/chats/chat"
	"github.com/germanamz/owl/pkg/chats/content"
	"github.com/germanamz/owl/pkg/chats/message"
	"github.com/germanamz/owl/pkg/chats/role"
	"github.com/germanamz/owl/pkg/modeladapter"
	"github.com/germanamz/owl/pkg/tools/toolbox"
)

const (
	systemPrompt  = "You are an image analysis assistant. Describe what you see precisely and answer the question about the image. Say so when the image does not contain the answer."
	defaultPrompt = "Describe this image in detail."
	maxImageBytes = 20 << 20
)

// Image is the image analysis toolkit.
type Image struct {
	completer modeladapter.Completer
}

// New creates an Image toolkit that sends images to completer.
func New(completer modeladapter.Completer) *Image {
	return &Image{completer: completer}
}

// Tools returns a ToolBox containing image_analyze.
func (i *Image) Tools() *toolbox.ToolBox {
	tb := toolbox.New()
	tb.Register(i.analyzeTool())
	return tb
}

type analyzeInput struct {
	Image    string `json:"image"`
	Question string `json:"question"`
}

func (i *Image) analyzeTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "image_analyze",
		Description: "Answer a question about an image given as an http(s) URL or a local file path (for example a browser_screenshot file).",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"image":{"type":"string","description":"Image URL or local path"},"question":{"type":"string","description":"What to find out about the image (default: describe it)"}},"required":["image"]}`),
		Handler:     i.handleAnalyze,
	}
}

func (i *Image) handleAnalyze(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := toolbox.Decode[analyzeInput]("image_analyze", input)
	if err != nil {
		return "", err
	}

	if in.Image == "" {
		return "", fmt.Errorf("image_analyze: image is required")
	}

	img, err := Load(in.Image)
	if err != nil {
		return "", fmt.Errorf("image_analyze: %w", err)
	}

	answer, err := i.Analyze(ctx, img, in.Question)
	if err != nil {
		return "", fmt.Errorf("image_analyze: %w", err)
	}

	return answer, nil
}

// Analyze asks the model question about img.
func (i *Image) Analyze(ctx context.Context, img content.Image, question string) (string, error) {
	if question == "" {
		question = defaultPrompt
	}

	c := chat.New(
		message.NewText("", role.System, systemPrompt),
		message.New("user", role.User, content.Text{Text: question}, img),
	)

	reply, err := i.completer.Complete(ctx, c, nil)
	if err != nil {
		return "", err
	}

	return reply.TextContent(), nil
}

// Load returns an image part for a URL or a local file. URLs are passed
// through for the model to fetch; files are embedded.
func Load(source string) (content.Image, error) {
	if u, err := url.Parse(source); err == nil && (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "data") {
		return content.Image{URL: source}, nil
	}

	f, err := os.Open(source)
	if err != nil {
		return content.Image{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
	if err != nil {
		return content.Image{}, fmt.Errorf("read image: %w", err)
	}

	if len(data) > maxImageBytes {
		return content.Image{}, fmt.Errorf("image larger than %d bytes", maxImageBytes)
	}

	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(source)))
	if !strings.HasPrefix(mt, "image/") {
		mt = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mt, "image/") {
		return content.Image{}, fmt.Errorf("%s is not an image (%s)", source, mt)
	}

	return content.Image{Data: data, MediaType: mt}, nil
}

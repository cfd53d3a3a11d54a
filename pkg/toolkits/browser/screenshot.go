package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/chromedp/chromedp"

	"github.com/germanamz/owl/pkg/tools/toolbox"
)

type screenshotInput struct {
	Selector string `json:"selector"`
	FullPage bool   `json:"full_page"`
	Path     string `json:"path"`
}

type screenshotOutput struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Path   string `json:"path,omitempty"`
	Base64 string `json:"base64,omitempty"`
}

func (b *Browser) screenshotTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "browser_screenshot",
		Description: "Take a PNG screenshot of the viewport, the full page or one element. When path is given the image is written there and the path returned (pass it to image_analyze); otherwise the image is returned base64-encoded.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"selector":{"type":"string","description":"CSS selector for element screenshot (default: viewport)"},"full_page":{"type":"boolean","description":"Capture full scrollable page (default false)"},"path":{"type":"string","description":"File to write the PNG to"}}}`),
		Handler:     b.handleScreenshot,
	}
}

func (b *Browser) handleScreenshot(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := toolbox.Decode[screenshotInput]("browser_screenshot", input)
	if err != nil {
		return "", err
	}

	opCtx, done, err := b.ensureBrowser(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	var (
		buf    []byte
		action chromedp.Action
	)

	switch {
	case in.Selector != "":
		action = chromedp.Screenshot(in.Selector, &buf, chromedp.ByQuery)
	case in.FullPage:
		action = chromedp.FullScreenshot(&buf, 100)
	default:
		action = chromedp.CaptureScreenshot(&buf)
	}

	if err := chromedp.Run(opCtx, action); err != nil {
		return "", fmt.Errorf("browser_screenshot: %w", err)
	}

	currentURL, title, err := pageInfo(opCtx)
	if err != nil {
		return "", fmt.Errorf("browser_screenshot: %w", err)
	}

	out := screenshotOutput{URL: currentURL, Title: title}
	if in.Path != "" {
		if err := os.WriteFile(in.Path, buf, 0o600); err != nil {
			return "", fmt.Errorf("browser_screenshot: %w", err)
		}
		out.Path = in.Path
	} else {
		out.Base64 = base64.StdEncoding.EncodeToString(buf)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("browser_screenshot: marshal: %w", err)
	}

	return string(data), nil
}

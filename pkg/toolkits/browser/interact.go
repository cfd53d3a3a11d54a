package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/chromedp"

	"github.com/germanamz/owl/pkg/tools/toolbox"
)

type clickInput struct {
	Selector string `json:"selector"`
}

type typeInput struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
	Submit   bool   `json:"submit"`
}

func (b *Browser) clickTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "browser_click",
		Description: "Click the element matching a CSS selector on the current page. Returns the resulting URL and title.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"selector":{"type":"string","description":"CSS selector for the element to click"}},"required":["selector"]}`),
		Handler:     b.handleClick,
	}
}

func (b *Browser) typeTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "browser_type",
		Description: "Type text into an input field on the current page, optionally pressing Enter to submit.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"selector":{"type":"string","description":"CSS selector for the input field"},"text":{"type":"string","description":"Text to type"},"submit":{"type":"boolean","description":"Press Enter after typing (default false)"}},"required":["selector","text"]}`),
		Handler:     b.handleType,
	}
}

func (b *Browser) handleClick(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := toolbox.Decode[clickInput]("browser_click", input)
	if err != nil {
		return "", err
	}

	if in.Selector == "" {
		return "", fmt.Errorf("browser_click: selector is required")
	}

	opCtx, done, err := b.ensureBrowser(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	if err := chromedp.Run(opCtx,
		chromedp.Click(in.Selector, chromedp.ByQuery),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("browser_click: %w", err)
	}

	return locationJSON(opCtx, "browser_click")
}

func (b *Browser) handleType(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := toolbox.Decode[typeInput]("browser_type", input)
	if err != nil {
		return "", err
	}

	if in.Selector == "" {
		return "", fmt.Errorf("browser_type: selector is required")
	}

	if in.Text == "" {
		return "", fmt.Errorf("browser_type: text is required")
	}

	opCtx, done, err := b.ensureBrowser(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	actions := []chromedp.Action{
		chromedp.Clear(in.Selector, chromedp.ByQuery),
		chromedp.SendKeys(in.Selector, in.Text, chromedp.ByQuery),
	}

	if in.Submit {
		actions = append(actions,
			chromedp.SendKeys(in.Selector, "\r", chromedp.ByQuery),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
	}

	if err := chromedp.Run(opCtx, actions...); err != nil {
		return "", fmt.Errorf("browser_type: %w", err)
	}

	return locationJSON(opCtx, "browser_type")
}

func locationJSON(ctx context.Context, tool string) (string, error) {
	currentURL, title, err := pageInfo(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", tool, err)
	}

	data, err := json.Marshal(Page{URL: currentURL, Title: title})
	if err != nil {
		return "", fmt.Errorf("%s: marshal: %w", tool, err)
	}

	return string(data), nil
}

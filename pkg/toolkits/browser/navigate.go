package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/chromedp"

	"github.com/germanamz/owl/pkg/tools/toolbox"
)

type navigateInput struct {
	URL string `json:"url"`
}

type extractInput struct {
	Selector string `json:"selector"`
}

// Page is the text view of a loaded page.
type Page struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text,omitempty"`
}

func (b *Browser) navigateTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "browser_navigate",
		Description: "Open a URL in the browser and return the page's clean text (scripts and styles stripped, 100KB cap). The page stays loaded for browser_click, browser_type, browser_extract and browser_screenshot.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"The http(s) URL to open"}},"required":["url"]}`),
		Handler:     b.handleNavigate,
	}
}

func (b *Browser) extractTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "browser_extract",
		Description: "Extract clean text from the current page or from the element matching a CSS selector.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"selector":{"type":"string","description":"CSS selector to extract from (default: entire page)"}}}`),
		Handler:     b.handleExtract,
	}
}

func (b *Browser) handleNavigate(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := toolbox.Decode[navigateInput]("browser_navigate", input)
	if err != nil {
		return "", err
	}

	if in.URL == "" {
		return "", fmt.Errorf("browser_navigate: url is required")
	}

	if err := checkURL(in.URL); err != nil {
		return "", fmt.Errorf("browser_navigate: %w", err)
	}

	opCtx, done, err := b.ensureBrowser(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	if err := chromedp.Run(opCtx,
		chromedp.Navigate(in.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("browser_navigate: %w", err)
	}

	return pageJSON(opCtx, "browser_navigate", "")
}

func (b *Browser) handleExtract(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := toolbox.Decode[extractInput]("browser_extract", input)
	if err != nil {
		return "", err
	}

	opCtx, done, err := b.ensureBrowser(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	return pageJSON(opCtx, "browser_extract", in.Selector)
}

func pageJSON(ctx context.Context, tool, selector string) (string, error) {
	text, err := extractText(ctx, selector)
	if err != nil {
		return "", fmt.Errorf("%s: %w", tool, err)
	}

	currentURL, title, err := pageInfo(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", tool, err)
	}

	data, err := json.Marshal(Page{URL: currentURL, Title: title, Text: text})
	if err != nil {
		return "", fmt.Errorf("%s: marshal: %w", tool, err)
	}

	return string(data), nil
}

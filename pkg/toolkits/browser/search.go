package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/chromedp/chromedp"

	"github.com/germanamz/owl/pkg/tools/toolbox"
)

// SearchURL is the DuckDuckGo HTML endpoint driven by browser_search.
var SearchURL = "https://html.duckduckgo.com/html/"

const maxSearchResults = 30

type searchInput struct {
	Query string `json:"query"`
}

// SearchResult is one hit of browser_search.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

const searchJS = `
(function(limit) {
	var results = [];
	var items = document.querySelectorAll(".result");
	for (var i = 0; i < items.length && results.length < limit; i++) {
		var a = items[i].querySelector(".result__title a, .result__a");
		var s = items[i].querySelector(".result__snippet");
		if (a) {
			results.push({
				title: (a.textContent || "").trim(),
				url: a.href || "",
				snippet: s ? (s.textContent || "").trim() : ""
			});
		}
	}
	return results;
})(%d)
`

func (b *Browser) searchTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "browser_search",
		Description: "Search the web with DuckDuckGo in the browser. Returns an array of {title, url, snippet}. Follow up with browser_navigate to read a result.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Search query"}},"required":["query"]}`),
		Handler:     b.handleSearch,
	}
}

func (b *Browser) handleSearch(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := toolbox.Decode[searchInput]("browser_search", input)
	if err != nil {
		return "", err
	}

	if in.Query == "" {
		return "", fmt.Errorf("browser_search: query is required")
	}

	opCtx, done, err := b.ensureBrowser(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	results := []SearchResult{}
	err = chromedp.Run(opCtx,
		chromedp.Navigate(SearchURL+"?q="+url.QueryEscape(in.Query)),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(searchJS, maxSearchResults), &results),
	)
	if err != nil {
		return "", fmt.Errorf("browser_search: %w", err)
	}

	b.logger.Debug("search", "query", in.Query, "results", len(results))

	data, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("browser_search: marshal: %w", err)
	}

	return string(data), nil
}

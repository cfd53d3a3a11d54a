// Package search provides web search tools backed by plain HTTP: DuckDuckGo's
// HTML endpoint for general queries and the Wikipedia REST API for entity
// summaries. Outgoing requests share one rate limiter.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/germanamz/owl/pkg/tools/toolbox"
)

const (
	DefaultDuckDuckGoURL = "https://html.duckduckgo.com/html/"
	DefaultWikipediaURL  = "https://en.wikipedia.org/api/rest_v1/page/summary/"

	defaultMaxResults = 10
	maxBodyBytes      = 2 << 20
	userAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Option configures a Search.
type Option func(*Search)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Search) { s.client = c }
}

// WithRate sets the shared request rate. A non-positive limit disables
// throttling.
func WithRate(perSecond float64, burst int) Option {
	return func(s *Search) {
		if perSecond <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithEndpoints overrides the DuckDuckGo and Wikipedia base URLs. Empty
// values keep the defaults.
func WithEndpoints(duckduckgo, wikipedia string) Option {
	return func(s *Search) {
		if duckduckgo != "" {
			s.ddgURL = duckduckgo
		}
		if wikipedia != "" {
			s.wikiURL = wikipedia
		}
	}
}

// Search is the search toolkit.
type Search struct {
	client  *http.Client
	limiter *rate.Limiter
	ddgURL  string
	wikiURL string
	logger  *slog.Logger
}

// New creates a Search limited to one request per second by default.
func New(opts ...Option) *Search {
	s := &Search{
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		ddgURL:  DefaultDuckDuckGoURL,
		wikiURL: DefaultWikipediaURL,
		logger:  slog.Default().With("component", "search"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Tools returns a ToolBox containing the search tools.
func (s *Search) Tools() *toolbox.ToolBox {
	tb := toolbox.New()
	tb.Register(s.duckDuckGoTool(), s.wikiTool())
	return tb
}

// Result is one web search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Summary is a Wikipedia page summary.
type Summary struct {
	Title   string `json:"title"`
	Extract string `json:"extract"`
	URL     string `json:"url"`
}

type ddgInput struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type wikiInput struct {
	Entity string `json:"entity"`
}

func (s *Search) duckDuckGoTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "search_duckduckgo",
		Description: "Search the web with DuckDuckGo. Returns an array of {title, url, snippet}. Cheaper than browser_search; use it first.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Search query"},"max_results":{"type":"integer","description":"Maximum number of results (default 10)"}},"required":["query"]}`),
		Handler:     s.handleDuckDuckGo,
	}
}

func (s *Search) wikiTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "search_wiki",
		Description: "Look up an entity on Wikipedia and return the summary of its page as {title, extract, url}.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"entity":{"type":"string","description":"Page title or entity name, e.g. \"Large language model\""}},"required":["entity"]}`),
		Handler:     s.handleWiki,
	}
}

func (s *Search) handleDuckDuckGo(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := toolbox.Decode[ddgInput]("search_duckduckgo", input)
	if err != nil {
		return "", err
	}

	if in.Query == "" {
		return "", fmt.Errorf("search_duckduckgo: query is required")
	}

	results, err := s.DuckDuckGo(ctx, in.Query, in.MaxResults)
	if err != nil {
		return "", fmt.Errorf("search_duckduckgo: %w", err)
	}

	data, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("search_duckduckgo: marshal: %w", err)
	}

	return string(data), nil
}

func (s *Search) handleWiki(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := toolbox.Decode[wikiInput]("search_wiki", input)
	if err != nil {
		return "", err
	}

	if in.Entity == "" {
		return "", fmt.Errorf("search_wiki: entity is required")
	}

	sum, err := s.Wikipedia(ctx, in.Entity)
	if err != nil {
		return "", fmt.Errorf("search_wiki: %w", err)
	}

	data, err := json.Marshal(sum)
	if err != nil {
		return "", fmt.Errorf("search_wiki: marshal: %w", err)
	}

	return string(data), nil
}

// DuckDuckGo runs a query against the HTML endpoint and parses the hits.
func (s *Search) DuckDuckGo(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	body, err := s.get(ctx, s.ddgURL+"?q="+url.QueryEscape(query), "text/html")
	if err != nil {
		return nil, err
	}
	defer body.Close()

	results, err := ParseDuckDuckGo(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	if len(results) > maxResults {
		results = results[:maxResults]
	}

	s.logger.Debug("duckduckgo", "query", query, "results", len(results))

	return results, nil
}

// Wikipedia fetches the summary of the page titled entity.
func (s *Search) Wikipedia(ctx context.Context, entity string) (Summary, error) {
	title := strings.ReplaceAll(strings.TrimSpace(entity), " ", "_")

	body, err := s.get(ctx, s.wikiURL+url.PathEscape(title), "application/json")
	if err != nil {
		return Summary{}, err
	}
	defer body.Close()

	var raw struct {
		Title       string `json:"title"`
		Extract     string `json:"extract"`
		ContentURLs struct {
			Desktop struct {
				Page string `json:"page"`
			} `json:"desktop"`
		} `json:"content_urls"`
	}
	if err := json.NewDecoder(io.LimitReader(body, maxBodyBytes)).Decode(&raw); err != nil {
		return Summary{}, fmt.Errorf("decode summary: %w", err)
	}

	return Summary{Title: raw.Title, Extract: raw.Extract, URL: raw.ContentURLs.Desktop.Page}, nil
}

func (s *Search) get(ctx context.Context, rawURL, accept string) (io.ReadCloser, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("not found: %s", rawURL)
	}

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	return resp.Body, nil
}

// ParseDuckDuckGo extracts results from a DuckDuckGo HTML result page.
func ParseDuckDuckGo(r io.Reader) ([]Result, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	results := []Result{}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case hasClass(n, "result__a"):
				results = append(results, Result{
					Title: strings.TrimSpace(textOf(n)),
					URL:   resolveRedirect(attr(n, "href")),
				})
				return
			case hasClass(n, "result__snippet"):
				if len(results) > 0 {
					results[len(results)-1].Snippet = strings.TrimSpace(textOf(n))
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return results, nil
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

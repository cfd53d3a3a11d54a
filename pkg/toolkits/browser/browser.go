// Package browser gives agents a Chrome browser driven through chromedp.
// Chrome is started lazily on first use, runs incognito and, unless
// configured otherwise, opens a visible window.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/germanamz/owl/pkg/tools/toolbox"
)

// maxContentBytes is the maximum extracted text size (100KB).
const maxContentBytes = 100 * 1024

const defaultTimeout = 30 * time.Second

// Option configures a Browser.
type Option func(*Browser)

// WithHeadless toggles headless Chrome.
func WithHeadless(headless bool) Option {
	return func(b *Browser) { b.headless = headless }
}

// WithTimeout bounds every browser operation.
func WithTimeout(d time.Duration) Option {
	return func(b *Browser) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithExecPath points chromedp at a specific Chrome binary.
func WithExecPath(path string) Option {
	return func(b *Browser) { b.execPath = path }
}

// Browser is the web toolkit.
type Browser struct {
	headless bool
	timeout  time.Duration
	execPath string

	parentCtx context.Context
	logger    *slog.Logger

	mu          sync.Mutex
	started     bool
	browserCtx  context.Context
	browserDone context.CancelFunc
	allocDone   context.CancelFunc
}

// New creates a Browser. parentCtx is the root of the Chrome process;
// cancelling it tears Chrome down.
func New(parentCtx context.Context, opts ...Option) *Browser {
	b := &Browser{
		parentCtx: parentCtx,
		timeout:   defaultTimeout,
		logger:    slog.Default().With("component", "browser"),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Tools returns a ToolBox containing all browser tools.
func (b *Browser) Tools() *toolbox.ToolBox {
	tb := toolbox.New()
	tb.Register(
		b.searchTool(),
		b.navigateTool(),
		b.clickTool(),
		b.typeTool(),
		b.extractTool(),
		b.screenshotTool(),
	)
	return tb
}

// Started reports whether Chrome is running.
func (b *Browser) Started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// Close shuts down Chrome if it was started. It is safe to call repeatedly.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return nil
	}

	b.browserDone()
	b.allocDone()
	b.browserDone = nil
	b.allocDone = nil
	b.browserCtx = nil
	b.started = false
	b.logger.Debug("chrome stopped")

	return nil
}

func (b *Browser) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !b.headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("incognito", true),
		chromedp.Flag("disable-gpu", true),
	)
	if b.execPath != "" {
		opts = append(opts, chromedp.ExecPath(b.execPath))
	}
	return opts
}

// ensureBrowser lazily starts Chrome. The returned context carries the
// per-operation timeout and is also cancelled when ctx is.
func (b *Browser) ensureBrowser(ctx context.Context) (context.Context, context.CancelFunc, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		allocCtx, allocCancel := chromedp.NewExecAllocator(b.parentCtx, b.allocatorOptions()...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)

		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			allocCancel()
			return nil, nil, fmt.Errorf("browser: start chrome: %w", err)
		}

		b.browserCtx = browserCtx
		b.browserDone = browserCancel
		b.allocDone = allocCancel
		b.started = true
		b.logger.Debug("chrome started", "headless", b.headless)
	}

	opCtx, cancel := context.WithTimeout(b.browserCtx, b.timeout)
	stop := context.AfterFunc(ctx, cancel)

	return opCtx, func() {
		stop()
		cancel()
	}, nil
}

// checkURL accepts only absolute http(s) URLs.
func checkURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}

	if parsed.Hostname() == "" {
		return fmt.Errorf("could not extract domain from URL")
	}

	return nil
}

const extractJS = `
(function(sel) {
	var el = sel ? document.querySelector(sel) : document.body;
	if (!el) return "";
	var clone = el.cloneNode(true);
	var tags = ["script", "style", "noscript", "svg"];
	for (var i = 0; i < tags.length; i++) {
		var elems = clone.querySelectorAll(tags[i]);
		for (var j = 0; j < elems.length; j++) {
			elems[j].remove();
		}
	}
	return clone.innerText || "";
})(%s)
`

// extractText returns the visible text of the page or of selector.
func extractText(ctx context.Context, selector string) (string, error) {
	selArg := "null"
	if selector != "" {
		selArg = fmt.Sprintf("%q", selector)
	}

	var text string
	if err := chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf(extractJS, selArg), &text)); err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}

	return Truncate(CollapseWhitespace(text), maxContentBytes), nil
}

func pageInfo(ctx context.Context) (currentURL, title string, err error) {
	if err := chromedp.Run(ctx,
		chromedp.Location(&currentURL),
		chromedp.Title(&title),
	); err != nil {
		return "", "", fmt.Errorf("page info: %w", err)
	}
	return currentURL, title, nil
}

var multiBlankLine = regexp.MustCompile(`\n\s*\n`)

// CollapseWhitespace reduces runs of blank lines to a single newline.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(multiBlankLine.ReplaceAllString(s, "\n"))
}

// Truncate caps s at max bytes and marks the cut.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return toolbox.Clip(s, max) + "\n[content truncated]"
}

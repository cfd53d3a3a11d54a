// Package console prints run progress for humans: banners, key/value lines,
// tool activity and the final answer.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	glamourstyles "github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

// BannerWidth is the width of the "=" rule around banners.
const BannerWidth = 50

const defaultWidth = 100

// Option configures a Console.
type Option func(*Console)

// WithColor forces styling on or off.
func WithColor(on bool) Option {
	return func(c *Console) { c.color = on }
}

// WithRender renders answers as markdown.
func WithRender(on bool) Option {
	return func(c *Console) { c.render = on }
}

// WithWidth sets the wrap and truncation width.
func WithWidth(n int) Option {
	return func(c *Console) {
		if n > 0 {
			c.width = n
		}
	}
}

// Console writes progress output. It is safe for concurrent use.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	color  bool
	render bool
	width  int

	lg     *lipgloss.Renderer
	banner lipgloss.Style
	key    lipgloss.Style
	dim    lipgloss.Style
	errSt  lipgloss.Style
	tool   lipgloss.Style
}

// New creates a Console on w. Colour defaults to whether w is a terminal.
func New(w io.Writer, opts ...Option) *Console {
	c := &Console{
		w:     w,
		color: DetectColor(w),
		width: TerminalWidth(w),
	}
	for _, o := range opts {
		o(c)
	}

	c.lg = lipgloss.NewRenderer(w)
	c.banner = c.lg.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	c.key = c.lg.NewStyle().Bold(true)
	c.dim = c.lg.NewStyle().Foreground(lipgloss.Color("8"))
	c.errSt = c.lg.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	c.tool = c.lg.NewStyle().Foreground(lipgloss.Color("5"))

	return c
}

// DetectColor reports whether w is a terminal and NO_COLOR is unset.
func DetectColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// TerminalWidth returns the width of w when it is a terminal.
func TerminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return defaultWidth
}

func (c *Console) style(s lipgloss.Style, text string) string {
	if !c.color {
		return text
	}
	return s.Render(text)
}

func (c *Console) write(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.w, s)
}

// Println prints a progress line.
func (c *Console) Println(a ...any) {
	c.write(fmt.Sprintln(a...))
}

// Printf prints formatted progress text followed by a newline.
func (c *Console) Printf(format string, a ...any) {
	c.write(fmt.Sprintf(format, a...) + "\n")
}

// Rule returns the banner rule.
func Rule() string { return strings.Repeat("=", BannerWidth) }

// Banner prints lines between two rules.
func (c *Console) Banner(lines ...string) {
	var b strings.Builder
	rule := c.style(c.banner, Rule())
	b.WriteString(rule + "\n")
	for _, l := range lines {
		b.WriteString(c.style(c.banner, l) + "\n")
	}
	b.WriteString(rule + "\n")
	c.write(b.String())
}

// KeyValue prints "key: value".
func (c *Console) KeyValue(key string, value any) {
	c.write(fmt.Sprintf("%s %v\n", c.style(c.key, key+":"), value))
}

// Dim prints a de-emphasised line.
func (c *Console) Dim(format string, a ...any) {
	c.write(c.style(c.dim, fmt.Sprintf(format, a...)) + "\n")
}

// Tool prints a one-line summary of a tool call, truncated to the width.
func (c *Console) Tool(agent, name, detail string, failed bool) {
	line := fmt.Sprintf("  %s → %s %s", agent, name, oneLine(detail))
	line = Truncate(line, c.width)

	if failed {
		c.write(c.style(c.errSt, line) + "\n")
		return
	}
	c.write(c.style(c.tool, line) + "\n")
}

// Answer prints the answer, through glamour when rendering is on.
func (c *Console) Answer(text string) {
	c.write(c.Markdown(text) + "\n")
}

// Markdown renders text as terminal markdown when rendering is on and
// returns it unchanged otherwise or on failure.
func (c *Console) Markdown(text string) string {
	if !c.render {
		return text
	}

	style := glamourstyles.NoTTYStyleConfig
	if c.color {
		style = glamourstyles.LightStyleConfig
		if c.lg.HasDarkBackground() {
			style = glamourstyles.DarkStyleConfig
		}
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStyles(style),
		glamour.WithWordWrap(c.width),
	)
	if err != nil {
		return text
	}

	out, err := r.Render(text)
	if err != nil {
		return text
	}

	return strings.TrimRight(out, "\n")
}

// Critical prints err inside banners.
func (c *Console) Critical(err error) {
	rule := c.style(c.errSt, Rule())
	c.write(fmt.Sprintf("\n%s\n%s\n%s\n", rule, c.style(c.errSt, "CRITICAL ERROR: "+err.Error()), rule))
}

// Truncate shortens s to at most width terminal cells, ending in "...".
func Truncate(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FmtTokens formats a token count with k/M suffixes.
func FmtTokens(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// FmtDuration formats a duration for display.
func FmtDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}

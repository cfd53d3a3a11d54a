package console

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestConsole(opts ...Option) (*Console, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(&buf, opts...), &buf
}

func TestNew_BufferIsPlain(t *testing.T) {
	c, _ := newTestConsole()
	assert.False(t, c.color)
	assert.Equal(t, defaultWidth, c.width)
}

func TestBanner(t *testing.T) {
	c, buf := newTestConsole()
	c.Banner("Starting with OpenRouter configuration...")

	rule := strings.Repeat("=", 50)
	assert.Equal(t, rule+"\nStarting with OpenRouter configuration...\n"+rule+"\n", buf.String())
}

func TestPrintHelpers(t *testing.T) {
	c, buf := newTestConsole()
	c.Println("Society constructed successfully!")
	c.Printf("Sleeping for %.2f seconds...", 1.5)
	c.KeyValue("Token count", 42)
	c.Dim("dim %d", 1)

	assert.Equal(t, "Society constructed successfully!\nSleeping for 1.50 seconds...\nToken count: 42\ndim 1\n", buf.String())
}

func TestCritical(t *testing.T) {
	c, buf := newTestConsole()
	c.Critical(errors.New("max retries exceeded: boom"))

	rule := strings.Repeat("=", 50)
	assert.Equal(t, "\n"+rule+"\nCRITICAL ERROR: max retries exceeded: boom\n"+rule+"\n", buf.String())
}

func TestTool_TruncatesToWidth(t *testing.T) {
	c, buf := newTestConsole(WithWidth(30))
	c.Tool("assistant", "search_duckduckgo", `{"query":"best ai tools in the market 2026"}`, false)

	line := strings.TrimSuffix(buf.String(), "\n")
	assert.True(t, strings.HasPrefix(line, "  assistant → search_"))
	assert.True(t, strings.HasSuffix(line, "..."))
	assert.LessOrEqual(t, len([]rune(line)), 30)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcdefg...", Truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "日本...", Truncate("日本語のテキスト", 7))
	assert.Equal(t, "anything", Truncate("anything", 0))
}

func TestAnswer_Plain(t *testing.T) {
	c, buf := newTestConsole()
	c.Answer("# Title\n- item")
	assert.Equal(t, "# Title\n- item\n", buf.String())
}

func TestAnswer_Rendered(t *testing.T) {
	c, buf := newTestConsole(WithRender(true), WithWidth(60))
	c.Answer("# Title\n\n- item")

	out := buf.String()
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "item")
	assert.NotContains(t, out, "\x1b[")
}

func TestFmt(t *testing.T) {
	assert.Equal(t, "999", FmtTokens(999))
	assert.Equal(t, "1.5k", FmtTokens(1500))
	assert.Equal(t, "2.0M", FmtTokens(2_000_000))
	assert.Equal(t, "1.5s", FmtDuration(1500*time.Millisecond))
	assert.Equal(t, "2m 5s", FmtDuration(125*time.Second))
}

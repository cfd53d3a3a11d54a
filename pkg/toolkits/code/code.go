// Package code lets agents run short programs. Each snippet is written to a
// fresh temporary directory and executed with a timeout; combined stdout and
// stderr is returned.
package code

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	osexec "os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/germanamz/owl/pkg/tools/toolbox"
)

const (
	DefaultTimeout = 60 * time.Second
	maxOutputBytes = 64 * 1024
)

// Runtime describes how to execute a snippet of one language.
type Runtime struct {
	File    string
	Command string
	Args    []string
}

// DefaultRuntimes maps language names to their runtimes. The snippet file
// path is appended to Args.
var DefaultRuntimes = map[string]Runtime{
	"python": {File: "main.py", Command: "python3"},
	"bash":   {File: "main.sh", Command: "bash"},
	"sh":     {File: "main.sh", Command: "sh"},
	"go":     {File: "main.go", Command: "go", Args: []string{"run"}},
}

// Option configures a Code toolkit.
type Option func(*Code)

// WithTimeout bounds each execution.
func WithTimeout(d time.Duration) Option {
	return func(c *Code) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRuntimes replaces the language table.
func WithRuntimes(rt map[string]Runtime) Option {
	return func(c *Code) { c.runtimes = rt }
}

// Code is the code execution toolkit.
type Code struct {
	timeout  time.Duration
	runtimes map[string]Runtime
	logger   *slog.Logger
}

// New creates a Code toolkit.
func New(opts ...Option) *Code {
	c := &Code{
		timeout:  DefaultTimeout,
		runtimes: DefaultRuntimes,
		logger:   slog.Default().With("component", "code"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Tools returns a ToolBox containing execute_code.
func (c *Code) Tools() *toolbox.ToolBox {
	tb := toolbox.New()
	tb.Register(c.executeTool())
	return tb
}

// Languages returns the supported language names, sorted.
func (c *Code) Languages() []string {
	langs := make([]string, 0, len(c.runtimes))
	for l := range c.runtimes {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

type executeInput struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

func (c *Code) executeTool() toolbox.Tool {
	langs, _ := json.Marshal(c.Languages())

	return toolbox.Tool{
		Name:        "execute_code",
		Description: fmt.Sprintf("Execute a code snippet and return its combined stdout and stderr. Runs in a fresh temporary directory with a %s timeout. Print the values you need.", c.timeout),
		InputSchema: json.RawMessage(fmt.Sprintf(`{"type":"object","properties":{"language":{"type":"string","enum":%s,"description":"Language of the snippet"},"code":{"type":"string","description":"Source code to run"}},"required":["language","code"]}`, langs)),
		Handler:     c.handleExecute,
	}
}

func (c *Code) handleExecute(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := toolbox.Decode[executeInput]("execute_code", input)
	if err != nil {
		return "", err
	}

	if in.Code == "" {
		return "", fmt.Errorf("execute_code: code is required")
	}

	out, err := c.Run(ctx, in.Language, in.Code)
	if err != nil {
		return "", fmt.Errorf("execute_code: %w", err)
	}

	return out, nil
}

// Run executes src as language. A non-zero exit is reported as an error
// carrying the program output.
func (c *Code) Run(ctx context.Context, language, src string) (string, error) {
	rt, ok := c.runtimes[strings.ToLower(language)]
	if !ok {
		return "", fmt.Errorf("unsupported language %q (supported: %s)", language, strings.Join(c.Languages(), ", "))
	}

	dir, err := os.MkdirTemp("", "owl-code-")
	if err != nil {
		return "", fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, rt.File)
	if err := os.WriteFile(file, []byte(src), 0o600); err != nil {
		return "", fmt.Errorf("write snippet: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := append(append([]string{}, rt.Args...), file)
	cmd := osexec.CommandContext(runCtx, rt.Command, args...) //nolint:gosec // snippet runs in its own temp dir
	cmd.Dir = dir
	cmd.WaitDelay = time.Second

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err = cmd.Run()
	c.logger.Debug("executed", "language", language, "duration", time.Since(start), "error", err)

	out := buf.String()
	if len(out) > maxOutputBytes {
		out = toolbox.Clip(out, maxOutputBytes) + "\n[output truncated]"
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("timed out after %s\n%s", c.timeout, out)
	}

	if err != nil {
		return "", fmt.Errorf("%w\n%s", err, out)
	}

	return out, nil
}

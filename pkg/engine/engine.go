package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/germanamz/owl/pkg/agent"
	"github.com/germanamz/owl/pkg/chats/content"
	"github.com/germanamz/owl/pkg/console"
	"github.com/germanamz/owl/pkg/history"
	"github.com/germanamz/owl/pkg/modeladapter"
	"github.com/germanamz/owl/pkg/models"
	"github.com/germanamz/owl/pkg/probe"
	"github.com/germanamz/owl/pkg/providers/openaisdk"
	"github.com/germanamz/owl/pkg/retry"
	"github.com/germanamz/owl/pkg/society"
	"github.com/germanamz/owl/pkg/toolkits/audio"
	"github.com/germanamz/owl/pkg/toolkits/browser"
	"github.com/germanamz/owl/pkg/toolkits/code"
	"github.com/germanamz/owl/pkg/toolkits/document"
	"github.com/germanamz/owl/pkg/toolkits/excel"
	"github.com/germanamz/owl/pkg/toolkits/image"
	"github.com/germanamz/owl/pkg/toolkits/search"
	"github.com/germanamz/owl/pkg/tools/mcpclient"
	"github.com/germanamz/owl/pkg/tools/toolbox"
)

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient sets the client used for model, probe and toolkit calls.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.httpClient = c }
}

// WithSleep replaces the sleep used between constructions and attempts.
func WithSleep(fn retry.SleepFunc) Option {
	return func(e *Engine) { e.sleep = fn }
}

// WithRand replaces the jitter source.
func WithRand(fn func() float64) Option {
	return func(e *Engine) { e.rand = fn }
}

// WithHistory records every run in store.
func WithHistory(store *history.Store) Option {
	return func(e *Engine) { e.history = store }
}

// WithEventBus publishes events on bus instead of a private one.
func WithEventBus(bus *EventBus) Option {
	return func(e *Engine) { e.events = bus }
}

// Report describes a finished run.
type Report struct {
	RunID     string
	Question  string
	Result    society.Result
	Attempts  int
	StartedAt time.Time
	Duration  time.Duration
}

// Engine assembles models, toolkits and societies from a Config.
type Engine struct {
	cfg     Config
	key     string
	out     *console.Console
	events  *EventBus
	history *history.Store
	logger  *slog.Logger

	httpClient *http.Client
	sleep      retry.SleepFunc
	rand       func() float64

	browser     *browser.Browser
	staticTools []*toolbox.ToolBox
	mcpClients  []*mcpclient.MCPClient
	transcriber audio.Transcriber

	closeOnce sync.Once
}

// New validates cfg and builds the long-lived parts of the engine: the
// browser (started lazily), stateless toolkits and MCP sessions. ctx is
// the lifetime of Chrome.
func New(ctx context.Context, cfg Config, key string, out *console.Console, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		key:    key,
		out:    out,
		sleep:  retry.Sleep,
		rand:   rand.Float64,
		logger: slog.Default().With("component", "engine"),
	}
	for _, o := range opts {
		o(e)
	}
	if e.events == nil {
		e.events = NewEventBus()
	}

	tk := cfg.Toolkits

	if tk.Browser.Enabled {
		e.browser = browser.New(ctx,
			browser.WithHeadless(tk.Browser.Headless),
			browser.WithTimeout(mustDuration(tk.Browser.Timeout)),
			browser.WithExecPath(tk.Browser.ExecPath),
		)
		e.staticTools = append(e.staticTools, e.browser.Tools())
	}

	if tk.Search.Enabled {
		searchOpts := []search.Option{search.WithRate(tk.Search.RatePerSecond, 1)}
		if e.httpClient != nil {
			searchOpts = append(searchOpts, search.WithHTTPClient(e.httpClient))
		}
		e.staticTools = append(e.staticTools, search.New(searchOpts...).Tools())
	}

	if tk.Document.Enabled {
		var docOpts []document.Option
		if e.httpClient != nil {
			docOpts = append(docOpts, document.WithHTTPClient(e.httpClient))
		}
		e.staticTools = append(e.staticTools, document.New(docOpts...).Tools())
	}

	if tk.Excel.Enabled {
		e.staticTools = append(e.staticTools, excel.New().Tools())
	}

	if tk.Code.Enabled {
		e.staticTools = append(e.staticTools, code.New(code.WithTimeout(mustDuration(tk.Code.Timeout))).Tools())
	}

	if tk.Audio.Enabled {
		baseURL := tk.Audio.BaseURL
		if baseURL == "" {
			baseURL = cfg.BaseURL
		}
		e.transcriber = openaisdk.NewClient(key, baseURL, cfg.Headers, e.httpClient)
	}

	for _, mc := range cfg.MCPServers {
		client, err := mcpclient.Connect(ctx, mcpclient.Server{
			Name:    mc.Name,
			Command: mc.Command,
			Args:    mc.Args,
			Env:     mc.Env,
			URL:     mc.URL,
			Prefix:  mc.ToolPrefix,
		})
		if err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("engine: mcp %q: %w", mc.Name, err)
		}
		e.mcpClients = append(e.mcpClients, client)

		tb, err := client.ToolBox(ctx)
		if err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("engine: mcp %q: list tools: %w", mc.Name, err)
		}
		e.staticTools = append(e.staticTools, tb)
	}

	return e, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// ToolBoxes returns the toolkits that need no model: browser, search,
// document, excel, code and MCP tool boxes, in that order.
func (e *Engine) ToolBoxes() []*toolbox.ToolBox {
	return append([]*toolbox.ToolBox{}, e.staticTools...)
}

// Events returns the engine's event bus.
func (e *Engine) Events() *EventBus { return e.events }

// Probe runs the connectivity check against the configured endpoint.
func (e *Engine) Probe(ctx context.Context) (string, error) {
	return probe.Check(ctx, probe.Options{
		BaseURL:    e.cfg.BaseURL,
		Key:        e.key,
		Model:      e.cfg.Probe.Model,
		Prompt:     e.cfg.Probe.Prompt,
		Headers:    e.cfg.Headers,
		HTTPClient: e.httpClient,
	})
}

func platformLabel(platform string) string {
	switch platform {
	case models.PlatformOpenRouter:
		return "OpenRouter"
	case models.PlatformOpenAI:
		return "OpenAI"
	case models.PlatformXAI:
		return "xAI"
	case models.PlatformAnthropic:
		return "Anthropic"
	case models.PlatformGemini:
		return "Gemini"
	}
	return platform
}

func (e *Engine) connection() models.Connection {
	rl := e.cfg.RateLimit
	return models.Connection{
		BaseURL:    e.cfg.BaseURL,
		Key:        e.key,
		Headers:    e.cfg.Headers,
		HTTPClient: e.httpClient,
		RateLimit: models.RateLimit{
			InputTPM:   rl.InputTPM,
			OutputTPM:  rl.OutputTPM,
			RPM:        rl.RPM,
			MaxRetries: rl.MaxRetries,
			BaseDelay:  mustDuration(rl.BaseDelay),
		},
	}
}

// ConstructSociety builds a fresh user model, pauses for a jittered
// construct delay, builds the assistant model, attaches the toolkits and
// returns a ready society for question.
func (e *Engine) ConstructSociety(ctx context.Context, question string) (*society.Society, error) {
	conn := e.connection()

	e.out.Printf("Creating user model with %s...", platformLabel(e.cfg.Models.User.Platform))
	userModel, err := models.New(conn, e.cfg.Models.User)
	if err != nil {
		return nil, fmt.Errorf("engine: user model: %w", err)
	}

	if base := mustDuration(e.cfg.ConstructDelay); base > 0 {
		_, err := retry.SafeSleep(ctx, base,
			retry.WithRand(e.rand),
			retry.WithSleep(func(ctx context.Context, d time.Duration) error {
				e.out.Printf("Sleeping for %.2f seconds...", d.Seconds())
				return e.sleep(ctx, d)
			}),
		)
		if err != nil {
			return nil, err
		}
	}

	e.out.Printf("Creating assistant model with %s...", platformLabel(e.cfg.Models.Assistant.Platform))
	assistantModel, err := models.New(conn, e.cfg.Models.Assistant)
	if err != nil {
		return nil, fmt.Errorf("engine: assistant model: %w", err)
	}

	toolboxes, err := e.setupToolkits(conn, assistantModel)
	if err != nil {
		return nil, err
	}

	user := society.NewUser(userModel, e.agentOptions("user", userModel))
	assistant := society.NewAssistant(assistantModel, e.agentOptions("assistant", assistantModel))
	assistant.AddToolBoxes(toolboxes...)

	var toolNames []string
	for _, tb := range toolboxes {
		toolNames = append(toolNames, tb.Names()...)
	}
	e.logger.DebugContext(ctx, "assistant tools", "tools", toolNames)

	opts := society.Options{
		Task:       question,
		User:       user,
		Assistant:  assistant,
		RoundLimit: e.cfg.Society.RoundLimit,
		OnRound: func(r society.Round) {
			e.events.Publish(Event{Kind: EventRound, Data: r})
		},
	}
	if e.cfg.Society.WithTaskSpecify {
		opts.TaskSpecifier = userModel
	}

	return society.New(opts)
}

func (e *Engine) setupToolkits(conn models.Connection, assistantModel modeladapter.Completer) ([]*toolbox.ToolBox, error) {
	tk := e.cfg.Toolkits

	if tk.Browser.Enabled {
		e.out.Println("Setting up WebToolkit...")
	}
	if tk.Search.Enabled {
		e.out.Println("Setting up SearchToolkit...")
	}
	if tk.Document.Enabled {
		e.out.Println("Setting up DocumentProcessingToolkit...")
	}
	if tk.Excel.Enabled {
		e.out.Println("Setting up ExcelToolkit...")
	}
	if tk.Code.Enabled {
		e.out.Println("Setting up CodeExecutionToolkit...")
	}
	for _, mc := range e.mcpClients {
		e.out.Printf("Setting up MCP toolkit %s...", mc.Name())
	}

	tbs := append([]*toolbox.ToolBox{}, e.staticTools...)

	if tk.Image.Enabled {
		e.out.Println("Setting up ImageAnalysisToolkit...")
		vision := assistantModel
		if tk.Image.Model != "" {
			spec := e.cfg.Models.Assistant
			spec.Model = tk.Image.Model
			c, err := models.New(conn, spec)
			if err != nil {
				return nil, fmt.Errorf("engine: image model: %w", err)
			}
			vision = c
		}
		tbs = append(tbs, image.New(vision).Tools())
	}

	if tk.Audio.Enabled {
		e.out.Println("Setting up AudioAnalysisToolkit...")
		var audioOpts []audio.Option
		audioOpts = append(audioOpts, audio.WithModel(tk.Audio.Model))
		if e.httpClient != nil {
			audioOpts = append(audioOpts, audio.WithHTTPClient(e.httpClient))
		}
		tbs = append(tbs, audio.New(e.transcriber, assistantModel, audioOpts...).Tools())
	}

	return tbs, nil
}

func (e *Engine) agentOptions(name string, completer modeladapter.Completer) agent.Options {
	var tokens agent.UsageFunc
	if ur, ok := completer.(modeladapter.UsageReporter); ok {
		tokens = ur.UsageTracker().Total
	}

	return agent.Options{
		MaxIterations: e.cfg.Society.MaxIterations,
		Middleware: []agent.Middleware{
			agent.Logger(e.logger, name, tokens),
			agent.Recovery(),
			agent.Timeout(mustDuration(e.cfg.Society.StepTimeout)),
		},
		OnToolCall: func(agentName string, call content.ToolCall, result content.ToolResult) {
			e.events.Publish(Event{
				Kind:  EventToolCall,
				Agent: agentName,
				Data: ToolCallData{
					Name:      call.Name,
					Arguments: call.Arguments,
					Result:    result.Content,
					IsError:   result.IsError,
				},
			})
		},
	}
}

// RunWithRetries runs a society for question, retrying failed runs with
// exponential backoff. first, when non-nil, is used for the first attempt;
// every other attempt constructs a fresh society. After the last failed
// attempt the error wraps retry.ErrExhausted.
func (e *Engine) RunWithRetries(ctx context.Context, question string, first *society.Society) (Report, error) {
	rep := Report{
		RunID:     uuid.NewString(),
		Question:  question,
		StartedAt: time.Now(),
	}
	maxAttempts := e.cfg.Retry.MaxAttempts

	opts := []retry.Option{
		retry.WithMaxAttempts(maxAttempts),
		retry.WithBaseDelay(mustDuration(e.cfg.Retry.BaseDelay)),
		retry.WithSleep(e.sleep),
		retry.WithRand(e.rand),
		retry.WithOnRetry(func(_, _ int, _ error, delay time.Duration) {
			e.out.Printf("Waiting %s seconds before retry...", formatSeconds(delay))
		}),
		retry.WithOnExhausted(func(_ int, err error) {
			e.out.Printf("Max retries exceeded. Last error: %v", err)
		}),
	}
	if e.cfg.Retry.Jitter {
		opts = append(opts, retry.WithJitter(0.5, 1.5))
	}

	err := retry.Do(ctx, func(ctx context.Context, attempt int) error {
		rep.Attempts = attempt
		e.out.Printf("Attempt %d/%d to run society...", attempt, maxAttempts)
		e.events.Publish(Event{Kind: EventAttemptStart, RunID: rep.RunID, Attempt: attempt})

		res, err := e.runOnce(ctx, question, attempt, first)
		if err != nil {
			e.out.Printf("Error during run (attempt %d/%d): %v", attempt, maxAttempts, err)
			e.events.Publish(Event{Kind: EventAttemptFailed, RunID: rep.RunID, Attempt: attempt, Data: err})
			return err
		}

		e.out.Println("Run completed successfully!")
		rep.Result = res
		return nil
	}, opts...)

	rep.Duration = time.Since(rep.StartedAt)
	e.record(rep, err)

	if err != nil {
		e.events.Publish(Event{Kind: EventRunFailed, RunID: rep.RunID, Attempt: rep.Attempts, Data: err})
		e.logger.ErrorContext(ctx, "task failed",
			"run_id", rep.RunID,
			"attempts", rep.Attempts,
			"duration", rep.Duration,
			"error", err,
		)
		return rep, err
	}

	e.events.Publish(Event{Kind: EventRunCompleted, RunID: rep.RunID, Attempt: rep.Attempts, Data: rep.Result})
	e.logger.InfoContext(ctx, "task completed",
		"run_id", rep.RunID,
		"question", question,
		"rounds", rep.Result.Rounds,
		"input_tokens", rep.Result.Usage.InputTokens,
		"output_tokens", rep.Result.Usage.OutputTokens,
		"attempts", rep.Attempts,
		"duration", rep.Duration,
	)

	return rep, nil
}

func (e *Engine) runOnce(ctx context.Context, question string, attempt int, first *society.Society) (society.Result, error) {
	soc := first
	if soc == nil || attempt > 1 {
		var err error
		if soc, err = e.ConstructSociety(ctx, question); err != nil {
			return society.Result{}, err
		}
	}

	return soc.Run(ctx)
}

func (e *Engine) record(rep Report, runErr error) {
	if e.history == nil {
		return
	}

	rec := history.Record{
		ID:        rep.RunID,
		Question:  rep.Question,
		Answer:    rep.Result.Answer,
		Usage:     rep.Result.Usage,
		Rounds:    rep.Result.Rounds,
		Attempts:  rep.Attempts,
		StartedAt: rep.StartedAt,
		Duration:  rep.Duration,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}

	if err := e.history.Put(rec); err != nil {
		e.logger.Warn("history write failed", "run_id", rep.RunID, "error", err)
	}
}

// formatSeconds prints whole seconds without decimals.
func formatSeconds(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%d", int64(d/time.Second))
	}
	return fmt.Sprintf("%.2f", d.Seconds())
}

// Close stops Chrome and closes MCP sessions.
func (e *Engine) Close() error {
	var errs []error

	e.closeOnce.Do(func() {
		if e.browser != nil {
			errs = append(errs, e.browser.Close())
		}
		for _, c := range e.mcpClients {
			errs = append(errs, c.Close())
		}
	})

	return errors.Join(errs...)
}

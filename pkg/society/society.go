// Package society runs a two-agent role-playing conversation. A user agent
// issues one instruction per round; an assistant agent executes it with
// tools. The run ends when the user agent emits TASK_DONE or the round limit
// is reached.
package society

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/germanamz/owl/pkg/agent"
	"github.com/germanamz/owl/pkg/chats/chat"
	"github.com/germanamz/owl/pkg/chats/message"
	"github.com/germanamz/owl/pkg/chats/role"
	"github.com/germanamz/owl/pkg/modeladapter"
	"github.com/germanamz/owl/pkg/modeladapter/usage"
)

// DefaultRoundLimit caps the conversation when Options.RoundLimit is zero.
const DefaultRoundLimit = 15

// Round is one instruction and its execution.
type Round struct {
	Index     int    `json:"index"`
	User      string `json:"user"`
	Assistant string `json:"assistant"`
	ToolCalls int    `json:"tool_calls"`
}

// Result is the outcome of one run.
type Result struct {
	Task    string           `json:"task"`
	Answer  string           `json:"answer"`
	History []Round          `json:"history"`
	Usage   usage.TokenCount `json:"usage"`
	Rounds  int              `json:"rounds"`
	Done    bool             `json:"done"`
}

// Options configures a Society.
type Options struct {
	Task       string
	User       *agent.Agent
	Assistant  *agent.Agent
	RoundLimit int

	// TaskSpecifier, when set, rewrites Task once before the first round.
	TaskSpecifier modeladapter.Completer

	// OnRound is called after every completed round.
	OnRound func(Round)
}

// NewUser builds the instructing agent. It gets no tools.
func NewUser(completer modeladapter.Completer, opts agent.Options) *agent.Agent {
	return agent.New("user", "You direct an assistant toward a task.", UserInstructions, completer, opts)
}

// NewAssistant builds the executing agent. Tool boxes are added by the caller.
func NewAssistant(completer modeladapter.Completer, opts agent.Options) *agent.Agent {
	return agent.New("assistant", "You execute instructions using tools.", AssistantInstructions, completer, opts)
}

// Society pairs a user agent and an assistant agent around one task. It is
// single-use: Run may be called once.
type Society struct {
	opts   Options
	ran    bool
	logger *slog.Logger
}

// New validates opts and returns a Society.
func New(opts Options) (*Society, error) {
	if strings.TrimSpace(opts.Task) == "" {
		return nil, errors.New("society: task is required")
	}
	if opts.User == nil || opts.Assistant == nil {
		return nil, errors.New("society: user and assistant agents are required")
	}
	if opts.RoundLimit <= 0 {
		opts.RoundLimit = DefaultRoundLimit
	}

	return &Society{
		opts:   opts,
		logger: slog.Default().With("component", "society"),
	}, nil
}

// Task returns the configured task before specification.
func (s *Society) Task() string { return s.opts.Task }

// Run drives the conversation. Any agent error aborts the run.
func (s *Society) Run(ctx context.Context) (Result, error) {
	if s.ran {
		return Result{}, errors.New("society: already run")
	}
	s.ran = true

	task := s.opts.Task
	if s.opts.TaskSpecifier != nil {
		specified, err := s.specify(ctx, task)
		if err != nil {
			return Result{}, err
		}
		task = specified
	}

	res := Result{Task: task}
	input := fmt.Sprintf(kickoffPrompt, task)

	for i := 1; i <= s.opts.RoundLimit; i++ {
		instruction, err := s.opts.User.Step(ctx, message.NewText("society", role.User, input))
		if err != nil {
			return Result{}, fmt.Errorf("society: round %d: %w", i, err)
		}

		text := instruction.TextContent()
		if strings.Contains(text, DoneToken) {
			res.Done = true
			s.logger.DebugContext(ctx, "user signalled completion", "round", i)
			break
		}

		prompt := text
		if i == 1 {
			prompt = fmt.Sprintf(assistantTaskPreamble, task, text)
		}

		mark := s.opts.Assistant.Chat().Len()
		reply, err := s.opts.Assistant.Step(ctx, message.NewText(s.opts.User.Name(), role.User, prompt))
		if err != nil {
			return Result{}, fmt.Errorf("society: round %d: %w", i, err)
		}

		round := Round{
			Index:     i,
			User:      text,
			Assistant: reply.TextContent(),
			ToolCalls: s.opts.Assistant.Chat().ToolCallsSince(mark),
		}
		s.logger.DebugContext(ctx, "round finished", "round", i, "tool_calls", round.ToolCalls)
		res.History = append(res.History, round)
		res.Answer = round.Assistant
		res.Rounds = i

		if s.opts.OnRound != nil {
			s.opts.OnRound(round)
		}

		input = fmt.Sprintf(assistantReplyPrompt, round.Assistant)
	}

	res.Usage = s.usage()

	return res, nil
}

func (s *Society) specify(ctx context.Context, task string) (string, error) {
	c := chat.New(
		message.NewText("task_specifier", role.System, specifierSystemPrompt),
		message.NewText("society", role.User, fmt.Sprintf(specifierPrompt, task)),
	)

	reply, err := s.opts.TaskSpecifier.Complete(ctx, c, nil)
	if err != nil {
		return "", fmt.Errorf("society: specify task: %w", err)
	}

	specified := strings.TrimSpace(reply.TextContent())
	if specified == "" {
		return task, nil
	}

	s.logger.DebugContext(ctx, "task specified", "task", specified)

	return specified, nil
}

// usage adds up the completers involved in the run. A model shared by both
// agents is counted once.
func (s *Society) usage() usage.TokenCount {
	var trackers []*usage.Tracker
	for _, c := range []modeladapter.Completer{s.opts.User.Completer(), s.opts.Assistant.Completer(), s.opts.TaskSpecifier} {
		if ur, ok := c.(modeladapter.UsageReporter); ok {
			trackers = append(trackers, ur.UsageTracker())
		}
	}

	return usage.Sum(trackers...)
}

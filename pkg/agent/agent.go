// Package agent provides a ReAct (reason + act) agent: a completer, a chat
// and a set of tool boxes. Each Step feeds one input message and loops
// completion and tool execution until the model replies without tool calls.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/germanamz/owl/pkg/chats/chat"
	"github.com/germanamz/owl/pkg/chats/content"
	"github.com/germanamz/owl/pkg/chats/message"
	"github.com/germanamz/owl/pkg/chats/role"
	"github.com/germanamz/owl/pkg/modeladapter"
	"github.com/germanamz/owl/pkg/tools/toolbox"
)

// ErrMaxIterations is returned when a Step exceeds MaxIterations without a
// text-only reply.
var ErrMaxIterations = errors.New("agent: max iterations reached")

// ToolObserver is notified after every tool execution.
type ToolObserver func(agent string, call content.ToolCall, result content.ToolResult)

// Options configures an Agent.
type Options struct {
	MaxIterations int          // Completion calls per Step (0 = unlimited).
	Middleware    []Middleware // Applied around every Step.
	OnToolCall    ToolObserver // Optional.
}

// Agent owns one side of a conversation.
type Agent struct {
	name         string
	description  string
	instructions string
	completer    modeladapter.Completer
	chat         *chat.Chat
	toolboxes    []*toolbox.ToolBox
	options      Options
	logger       *slog.Logger
}

// New creates an Agent.
func New(name, description, instructions string, completer modeladapter.Completer, opts Options) *Agent {
	return &Agent{
		name:         name,
		description:  description,
		instructions: instructions,
		completer:    completer,
		chat:         chat.New(),
		options:      opts,
		logger:       slog.Default().With("component", "agent", "agent", name),
	}
}

// Init appends the system prompt once.
func (a *Agent) Init() {
	if a.chat.SystemPrompt() == "" {
		a.chat.Append(message.NewText(a.name, role.System, a.buildSystemPrompt()))
	}
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// Description returns the agent's description.
func (a *Agent) Description() string { return a.description }

// Chat returns the agent's chat.
func (a *Agent) Chat() *chat.Chat { return a.chat }

// Completer returns the agent's completer.
func (a *Agent) Completer() modeladapter.Completer { return a.completer }

// AddToolBoxes makes more tools available to the agent.
func (a *Agent) AddToolBoxes(tbs ...*toolbox.ToolBox) {
	a.toolboxes = append(a.toolboxes, tbs...)
}

// Tools lists every tool across the agent's tool boxes.
func (a *Agent) Tools() []toolbox.Tool {
	var tools []toolbox.Tool
	for _, tb := range a.toolboxes {
		tools = append(tools, tb.Tools()...)
	}
	return tools
}

// Step appends input to the chat and runs the ReAct loop with middleware
// applied. It returns the first reply that carries no tool calls.
func (a *Agent) Step(ctx context.Context, input message.Message) (message.Message, error) {
	a.Init()
	a.chat.Append(input)

	return a.Run(ctx)
}

// Run continues the ReAct loop from the current chat state.
func (a *Agent) Run(ctx context.Context) (message.Message, error) {
	var runner Runner = RunnerFunc(a.run)

	// First middleware is outermost.
	for i := len(a.options.Middleware) - 1; i >= 0; i-- {
		runner = a.options.Middleware[i](runner)
	}

	return runner.Run(ctx)
}

func (a *Agent) run(ctx context.Context) (message.Message, error) {
	a.Init()

	tools := a.Tools()

	for i := 0; a.options.MaxIterations == 0 || i < a.options.MaxIterations; i++ {
		reply, err := a.completer.Complete(ctx, a.chat, tools)
		if err != nil {
			return message.Message{}, fmt.Errorf("%s: %w", a.name, err)
		}

		reply.Sender = a.name
		a.chat.Append(reply)

		calls := reply.ToolCalls()
		if len(calls) == 0 {
			return reply, nil
		}

		for _, tc := range calls {
			result := a.callTool(ctx, tc)
			a.chat.Append(message.New(a.name, role.Tool, result))
		}
	}

	return message.Message{}, ErrMaxIterations
}

func (a *Agent) buildSystemPrompt() string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s.", a.name)
	if a.description != "" {
		fmt.Fprintf(&b, " %s", a.description)
	}
	b.WriteString("\n")

	if a.instructions != "" {
		b.WriteString("\n## Instructions\n\n")
		b.WriteString(a.instructions)
		b.WriteString("\n")
	}

	if tools := a.Tools(); len(tools) > 0 {
		b.WriteString("\n## Tools\n\n")
		for _, t := range tools {
			fmt.Fprintf(&b, "- **%s**: %s\n", t.Name, t.Description)
		}
	}

	return b.String()
}

func (a *Agent) callTool(ctx context.Context, tc content.ToolCall) content.ToolResult {
	result := content.ToolResult{
		ToolCallID: tc.ID,
		Content:    "tool not found: " + tc.Name,
		IsError:    true,
	}

	for _, tb := range a.toolboxes {
		if _, ok := tb.Get(tc.Name); ok {
			result = tb.Call(ctx, tc)
			break
		}
	}

	if result.IsError {
		a.logger.WarnContext(ctx, "tool failed", "tool", tc.Name, "error", result.Content)
	} else {
		a.logger.DebugContext(ctx, "tool called", "tool", tc.Name, "result_bytes", len(result.Content))
	}

	if a.options.OnToolCall != nil {
		a.options.OnToolCall(a.name, tc, result)
	}

	return result
}

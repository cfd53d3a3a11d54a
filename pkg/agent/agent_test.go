package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/germanamz/owl/pkg/chats/chat"
	"github.com/germanamz/owl/pkg/chats/content"
	"github.com/germanamz/owl/pkg/chats/message"
	"github.com/germanamz/owl/pkg/chats/role"
	"github.com/germanamz/owl/pkg/modeladapter/usage"
	"github.com/germanamz/owl/pkg/tools/toolbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequenceCompleter returns preconfigured replies in order and records the
// tools it was offered.
type sequenceCompleter struct {
	replies []message.Message
	index   int
	offered [][]toolbox.Tool
	tracker usage.Tracker
}

func (p *sequenceCompleter) Complete(_ context.Context, _ *chat.Chat, tools []toolbox.Tool) (message.Message, error) {
	p.offered = append(p.offered, tools)
	if p.index >= len(p.replies) {
		return message.Message{}, errors.New("no more replies")
	}
	reply := p.replies[p.index]
	p.index++
	p.tracker.Add(usage.TokenCount{InputTokens: 10, OutputTokens: 2})
	return reply, nil
}

func (p *sequenceCompleter) UsageTracker() *usage.Tracker { return &p.tracker }
func (p *sequenceCompleter) ModelMaxTokens() int          { return 0 }

type errorCompleter struct{ err error }

func (p *errorCompleter) Complete(context.Context, *chat.Chat, []toolbox.Tool) (message.Message, error) {
	return message.Message{}, p.err
}

func newEchoToolBox() *toolbox.ToolBox {
	tb := toolbox.New()
	tb.Register(toolbox.Tool{
		Name:        "echo",
		Description: "Echoes input",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler: func(_ context.Context, input json.RawMessage) (string, error) {
			return string(input), nil
		},
	})
	return tb
}

func TestNew(t *testing.T) {
	a := New("assistant", "Executes instructions.", "Be precise.", &sequenceCompleter{}, Options{MaxIterations: 5})

	assert.Equal(t, "assistant", a.Name())
	assert.Equal(t, "Executes instructions.", a.Description())
	assert.NotNil(t, a.Completer())
	assert.Equal(t, 0, a.Chat().Len())
}

func TestInit_SystemPromptOnce(t *testing.T) {
	a := New("assistant", "Executes instructions.", "Be precise.", &sequenceCompleter{}, Options{})
	a.AddToolBoxes(newEchoToolBox())

	a.Init()
	a.Init()

	require.Equal(t, 1, a.Chat().Len())
	prompt := a.Chat().SystemPrompt()
	assert.Contains(t, prompt, "You are assistant. Executes instructions.")
	assert.Contains(t, prompt, "## Instructions\n\nBe precise.")
	assert.Contains(t, prompt, "- **echo**: Echoes input")
}

func TestStep_NoToolCalls(t *testing.T) {
	p := &sequenceCompleter{replies: []message.Message{message.NewText("", role.Assistant, "Done.")}}
	a := New("assistant", "", "", p, Options{})

	reply, err := a.Step(context.Background(), message.NewText("user", role.User, "Say done"))

	require.NoError(t, err)
	assert.Equal(t, "Done.", reply.TextContent())
	assert.Equal(t, "assistant", reply.Sender)

	msgs := a.Chat().Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, role.System, msgs[0].Role)
	assert.Equal(t, role.User, msgs[1].Role)
	assert.Equal(t, role.Assistant, msgs[2].Role)
}

func TestStep_ToolLoop(t *testing.T) {
	p := &sequenceCompleter{replies: []message.Message{
		message.New("", role.Assistant, content.ToolCall{ID: "c1", Name: "echo", Arguments: `{"step":1}`}),
		message.New("", role.Assistant,
			content.ToolCall{ID: "c2", Name: "echo", Arguments: `{"step":2}`},
			content.ToolCall{ID: "c3", Name: "missing", Arguments: `{}`},
		),
		message.NewText("", role.Assistant, "All done."),
	}}

	var observed []string
	a := New("assistant", "", "", p, Options{
		OnToolCall: func(agent string, call content.ToolCall, result content.ToolResult) {
			observed = append(observed, agent+"/"+call.Name+"/"+result.Content)
		},
	})
	a.AddToolBoxes(newEchoToolBox())

	reply, err := a.Step(context.Background(), message.NewText("user", role.User, "go"))
	require.NoError(t, err)
	assert.Equal(t, "All done.", reply.TextContent())
	assert.Equal(t, 3, p.index)

	assert.Equal(t, []string{
		`assistant/echo/{"step":1}`,
		`assistant/echo/{"step":2}`,
		"assistant/missing/tool not found: missing",
	}, observed)

	require.Len(t, p.offered[0], 1)
	assert.Equal(t, "echo", p.offered[0][0].Name)

	// system, user, call, result, call, result, result, answer
	assert.Equal(t, 8, a.Chat().Len())
	assert.Equal(t, 3, a.Chat().CountRole(role.Tool))
}

func TestStep_MaxIterations(t *testing.T) {
	loop := message.New("", role.Assistant, content.ToolCall{ID: "c", Name: "echo", Arguments: `{}`})
	p := &sequenceCompleter{replies: []message.Message{loop, loop, loop}}

	a := New("assistant", "", "", p, Options{MaxIterations: 2})
	a.AddToolBoxes(newEchoToolBox())

	_, err := a.Step(context.Background(), message.NewText("user", role.User, "go"))
	assert.ErrorIs(t, err, ErrMaxIterations)
	assert.Equal(t, 2, p.index)
}

func TestStep_CompleterError(t *testing.T) {
	a := New("user", "", "", &errorCompleter{err: errors.New("upstream 502")}, Options{})

	_, err := a.Step(context.Background(), message.NewText("user", role.User, "go"))
	assert.EqualError(t, err, "user: upstream 502")
}

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/germanamz/owl/pkg/chats/message"
	"github.com/germanamz/owl/pkg/modeladapter/usage"
)

// Runner produces the reply for one agent Step.
type Runner interface {
	Run(ctx context.Context) (message.Message, error)
}

// RunnerFunc lets a function serve as a Runner.
type RunnerFunc func(ctx context.Context) (message.Message, error)

func (f RunnerFunc) Run(ctx context.Context) (message.Message, error) {
	return f(ctx)
}

// Middleware decorates the Runner behind every Step. The first middleware in
// Options.Middleware is the outermost.
type Middleware func(next Runner) Runner

// Timeout gives each Step at most d to finish. d <= 0 leaves the context
// untouched.
func Timeout(d time.Duration) Middleware {
	return func(next Runner) Runner {
		if d <= 0 {
			return next
		}

		return RunnerFunc(func(ctx context.Context) (message.Message, error) {
			stepCtx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			msg, err := next.Run(stepCtx)
			if err != nil && stepCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				return msg, fmt.Errorf("agent step exceeded %s: %w", d, err)
			}

			return msg, err
		})
	}
}

// Recovery turns a panic inside a Step (a crashing tool handler, typically)
// into an error so the society run fails and can be retried.
func Recovery() Middleware {
	return func(next Runner) Runner {
		return RunnerFunc(func(ctx context.Context) (msg message.Message, err error) {
			defer func() {
				if r := recover(); r != nil {
					msg, err = message.Message{}, fmt.Errorf("agent panicked: %v", r)
				}
			}()

			return next.Run(ctx)
		})
	}
}

// UsageFunc reports the running token total of an agent's completer.
type UsageFunc func() usage.TokenCount

// Logger records one line per Step with its duration and, when tokens is
// non-nil, the tokens the Step consumed.
func Logger(log *slog.Logger, name string, tokens UsageFunc) Middleware {
	return func(next Runner) Runner {
		return RunnerFunc(func(ctx context.Context) (message.Message, error) {
			log.DebugContext(ctx, "agent step started", "agent", name)

			var before usage.TokenCount
			if tokens != nil {
				before = tokens()
			}

			start := time.Now()
			msg, err := next.Run(ctx)

			attrs := []any{"agent", name, "duration", time.Since(start)}
			if tokens != nil {
				after := tokens()
				attrs = append(attrs,
					"input_tokens", after.InputTokens-before.InputTokens,
					"output_tokens", after.OutputTokens-before.OutputTokens,
				)
			}

			if err != nil {
				log.ErrorContext(ctx, "agent step failed", append(attrs, "error", err)...)
				return msg, err
			}

			log.InfoContext(ctx, "agent step finished", append(attrs, "reply_chars", len(msg.TextContent()))...)

			return msg, nil
		})
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/germanamz/owl/pkg/console"
	"github.com/germanamz/owl/pkg/credentials"
	"github.com/germanamz/owl/pkg/engine"
	"github.com/germanamz/owl/pkg/history"
	"github.com/germanamz/owl/pkg/society"
)

type runFlags struct {
	question string
	noProbe  bool
	render   bool
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run [question]",
		Short: "Run the society against a question",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := f.question
			if len(args) == 1 {
				question = args[0]
			}
			if question == "" {
				question = engine.DefaultQuestion
			}

			out := console.New(a.out, console.WithRender(f.render))

			if err := runQuestion(cmd.Context(), a, out, question, f); err != nil {
				var reported reportedError
				if !errors.As(err, &reported) {
					out.Critical(err)
				}
				return reportedError{err}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&f.question, "question", "q", "", "question to work on (default \""+engine.DefaultQuestion+"\")")
	cmd.Flags().BoolVar(&f.noProbe, "no-probe", false, "skip the connectivity check")
	cmd.Flags().BoolVar(&f.render, "render", false, "render the answer as markdown")

	return cmd
}

func runQuestion(ctx context.Context, a *app, out *console.Console, question string, f runFlags) error {
	loadEnv(out, a.envFile)

	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}

	closeLog, err := setupLogging(cfg.Logging, a.verbose, a.errOut)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	printKeyEnv(out, cfg.Credentials)

	res, err := resolveKey(ctx, a, out, cfg)
	if err != nil {
		return err
	}

	var opts []engine.Option
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		opts = append(opts, engine.WithHistory(store))
	}

	eng, err := engine.New(ctx, cfg, res.Key, out, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	if cfg.Probe.Enabled && !f.noProbe {
		if err := testConnection(ctx, out, res.Key, eng.Probe); err != nil {
			out.Println("Failed to connect to OpenRouter. Please check your API key and configuration.")
			return reportedError{fmt.Errorf("connectivity check: %w", err)}
		}
	}

	banner := []string{"Starting with OpenRouter configuration..."}
	if masked, ok := credentials.Mask(res.Key); ok {
		banner = append(banner, "Using OpenRouter with API key (first 5 chars): "+masked)
	}
	banner = append(banner, "API Base URL: "+cfg.BaseURL)

	out.Println()
	out.Banner(banner...)
	out.Println()

	soc, err := eng.ConstructSociety(ctx, question)
	if err != nil {
		return err
	}
	out.Println("Society constructed successfully!")

	stopEvents := func() {}
	if a.verbose {
		stopEvents = followEvents(eng.Events(), out)
	}

	out.Println("\nRunning task...")
	rep, err := eng.RunWithRetries(ctx, question, soc)
	stopEvents()
	if err != nil {
		return err
	}

	printReport(out, rep, f.render)
	return nil
}

func printReport(out *console.Console, rep engine.Report, render bool) {
	out.Println()
	out.Banner("TASK EXECUTION COMPLETED SUCCESSFULLY")

	if render {
		out.Println("Answer:")
		out.Answer(rep.Result.Answer)
	} else {
		out.KeyValue("Answer", rep.Result.Answer)
	}

	out.KeyValue("Token count", rep.Result.Usage.String())
	out.Dim("Run %s: %d round(s), %d attempt(s), %s", rep.RunID, rep.Result.Rounds, rep.Attempts, console.FmtDuration(rep.Duration))
}

// followEvents prints rounds and tool calls as they happen. The returned
// func stops following once every buffered event is printed.
func followEvents(bus *engine.EventBus, out *console.Console) func() {
	sub := bus.Subscribe(64, engine.EventRound, engine.EventToolCall)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range sub.C {
			printEvent(out, ev)
		}
	}()

	return func() {
		bus.Unsubscribe(sub)
		<-done
		if n := sub.Dropped(); n > 0 {
			out.Dim("(%d progress events skipped)", n)
		}
	}
}

func printEvent(out *console.Console, ev engine.Event) {
	switch ev.Kind {
	case engine.EventToolCall:
		d, ok := ev.Data.(engine.ToolCallData)
		if !ok {
			return
		}
		out.Tool(ev.Agent, d.Name, d.Arguments, d.IsError)
	case engine.EventRound:
		r, ok := ev.Data.(society.Round)
		if !ok {
			return
		}
		out.Dim("Round %d: %s", r.Index, console.Truncate(strings.Join(strings.Fields(r.User), " "), 80))
	}
}

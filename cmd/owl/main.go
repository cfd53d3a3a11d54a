// Command owl runs a user agent and a tool-equipped assistant agent against
// one question through an OpenAI-compatible endpoint such as OpenRouter.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/germanamz/owl/pkg/tools/mcpclient"
)

var version = "dev"

// reportedError is an error the command already printed.
type reportedError struct{ err error }

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

func main() {
	mcpclient.ClientVersion = version

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func execute(ctx context.Context, args []string, in *os.File, out, errOut io.Writer) int {
	cmd := newRootCmd(&app{in: in, out: out, errOut: errOut})
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	if err := cmd.ExecuteContext(ctx); err != nil {
		var reported reportedError
		if !errors.As(err, &reported) {
			_, _ = fmt.Fprintf(errOut, "error: %v\n", err)
		}
		return 1
	}

	return 0
}

// app holds the process streams and the flags shared by all commands.
type app struct {
	in     *os.File
	out    io.Writer
	errOut io.Writer

	configPath string
	envFile    string
	verbose    bool
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "owl",
		Short:         "Run a two-agent society against a question",
		Long:          "owl pairs a user agent with an assistant agent that can browse, search, read documents,\nrun code and analyse media, and lets them work a question until the user agent is satisfied.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to configuration file (default: owl.yaml if present)")
	root.PersistentFlags().StringVar(&a.envFile, "env", "", "path to .env file (default: <cwd>/.env)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "show tool calls, rounds and debug logs")

	run := newRunCmd(a)

	// Bare `owl` works the default question.
	root.Args = cobra.NoArgs
	root.RunE = func(cmd *cobra.Command, _ []string) error {
		return run.RunE(cmd, nil)
	}

	root.AddCommand(
		run,
		newCheckCmd(a),
		newHistoryCmd(a),
		newMCPCmd(a),
		newLogoutCmd(a),
	)

	return root
}

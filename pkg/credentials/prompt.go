package credentials

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// TerminalPrompt asks on a terminal with a masked huh input, or reads one
// line when in is not a terminal.
func TerminalPrompt(in *os.File, out io.Writer) Prompter {
	return func(ctx context.Context, label string) (string, error) {
		if term.IsTerminal(int(in.Fd())) {
			var key string

			err := huh.NewForm(huh.NewGroup(
				huh.NewInput().
					Title(strings.TrimSuffix(label, ": ")).
					EchoMode(huh.EchoModePassword).
					Value(&key),
			)).WithInput(in).WithOutput(out).RunWithContext(ctx)
			if err != nil {
				return "", err
			}

			return key, nil
		}

		return ReadLine(in, out)(ctx, label)
	}
}

// ReadLine prints label and reads one line from r.
func ReadLine(r io.Reader, out io.Writer) Prompter {
	return func(_ context.Context, label string) (string, error) {
		_, _ = fmt.Fprint(out, label)

		line, err := bufio.NewReader(r).ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", err
		}

		return strings.TrimSpace(line), nil
	}
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/germanamz/owl/pkg/console"
	"github.com/germanamz/owl/pkg/history"
)

var errHistoryDisabled = errors.New("run history is disabled: set history.path in the configuration")

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs or show one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadDotEnv(envPath(a.envFile)); err != nil {
				return err
			}

			cfg, err := loadConfig(a.configPath)
			if err != nil {
				return err
			}
			if cfg.History.Path == "" {
				return errHistoryDisabled
			}

			store, err := history.Open(cfg.History.Path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			out := console.New(a.out, console.WithRender(!asJSON))

			if len(args) == 1 {
				rec, err := store.Get(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(a, rec)
				}
				showRecord(out, rec)
				return nil
			}

			recs, err := store.List(limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(a, recs)
			}
			if len(recs) == 0 {
				out.Println("No runs recorded")
				return nil
			}
			out.Println(recordTable(recs))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func envPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return ".env"
}

func writeJSON(a *app, v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func status(rec history.Record) string {
	if rec.Succeeded() {
		return "ok"
	}
	return "failed"
}

func recordTable(recs []history.Record) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "STARTED", "STATUS", "ATTEMPTS", "TOKENS", "QUESTION")

	for _, r := range recs {
		t.Row(
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			status(r),
			fmt.Sprintf("%d", r.Attempts),
			console.FmtTokens(r.Usage.Total()),
			console.Truncate(r.Question, 40),
		)
	}

	return t.String()
}

func showRecord(out *console.Console, rec history.Record) {
	out.KeyValue("Run", rec.ID)
	out.KeyValue("Question", rec.Question)
	out.KeyValue("Started", rec.StartedAt.Local().Format(time.DateTime))
	out.KeyValue("Duration", console.FmtDuration(rec.Duration))
	out.KeyValue("Status", status(rec))
	out.KeyValue("Attempts", rec.Attempts)
	out.KeyValue("Rounds", rec.Rounds)
	out.KeyValue("Token count", rec.Usage.String())

	if !rec.Succeeded() {
		out.KeyValue("Error", rec.Error)
		return
	}

	out.Println("Answer:")
	out.Answer(rec.Answer)
}

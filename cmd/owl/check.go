package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/germanamz/owl/pkg/console"
	"github.com/germanamz/owl/pkg/probe"
)

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Resolve the API key and test the connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := console.New(a.out)

			loadEnv(out, a.envFile)

			cfg, err := loadConfig(a.configPath)
			if err != nil {
				return err
			}

			res, err := resolveKey(ctx, a, out, cfg)
			if err != nil {
				return err
			}
			out.KeyValue("Key source", res.Source)
			out.KeyValue("API Base URL", cfg.BaseURL)

			err = testConnection(ctx, out, res.Key, func(ctx context.Context) (string, error) {
				return probe.Check(ctx, probe.Options{
					BaseURL: cfg.BaseURL,
					Key:     res.Key,
					Model:   cfg.Probe.Model,
					Prompt:  cfg.Probe.Prompt,
					Headers: cfg.Headers,
				})
			})
			if err != nil {
				out.Println("Failed to connect to OpenRouter. Please check your API key and configuration.")
				return reportedError{err}
			}

			return nil
		},
	}
}

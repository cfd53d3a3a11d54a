package main

import (
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/germanamz/owl/pkg/console"
	"github.com/germanamz/owl/pkg/engine"
	"github.com/germanamz/owl/pkg/tools/mcpserver"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the configured toolkits over MCP on stdio",
		Long:  "Serve the browser, search, document, excel and code toolkits as an MCP server on stdin/stdout.\nImage and audio analysis need a model and are not served.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			// stdout carries the protocol; nothing else may write to it.
			if err := loadDotEnv(envPath(a.envFile)); err != nil {
				return err
			}

			cfg, err := loadConfig(a.configPath)
			if err != nil {
				return err
			}

			closeLog, err := setupLogging(cfg.Logging, a.verbose, a.errOut)
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			eng, err := engine.New(ctx, cfg, "", console.New(io.Discard))
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			srv := mcpserver.New("owl", version)
			srv.Register(eng.ToolBoxes()...)
			if len(srv.Names()) == 0 {
				return errors.New("mcp: no toolkits enabled")
			}

			return srv.Serve(ctx, a.in, a.out)
		},
	}
}

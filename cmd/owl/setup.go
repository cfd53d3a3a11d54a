package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/germanamz/owl/pkg/console"
	"github.com/germanamz/owl/pkg/credentials"
	"github.com/germanamz/owl/pkg/engine"
)

// defaultConfigFile is used when --config is not given and the file exists.
const defaultConfigFile = "owl.yaml"

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// loadEnv loads the .env file and reports where it looked. A failing
// explicit path falls back to .env in the working directory.
func loadEnv(out *console.Console, path string) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	out.Printf("Current working directory: %s", cwd)

	if path == "" {
		path = filepath.Join(cwd, ".env")
	}
	out.Printf("Looking for .env file at: %s", path)

	if err := loadDotEnv(path); err != nil {
		out.Printf("Error loading .env file: %v", err)

		if err := loadDotEnv(".env"); err != nil {
			out.Printf("Error loading .env without path: %v", err)
			return
		}
		out.Println("Successfully loaded .env without explicit path")
		return
	}
	out.Println("Successfully loaded .env file")
}

// printKeyEnv lists the credential variables with their values masked.
func printKeyEnv(out *console.Console, cfg engine.CredentialsConfig) {
	out.Println("Environment variables:")
	for _, name := range []string{cfg.FallbackEnv, cfg.PrimaryEnv} {
		if name == "" {
			continue
		}
		out.Printf("%s: %s", name, maskedEnv(os.Getenv(name)))
	}
}

func maskedEnv(v string) string {
	if v == "" {
		return "Not found"
	}
	if masked, ok := credentials.Mask(v); ok {
		return masked
	}
	return "(set, too short)"
}

// resolveConfigPath returns the config file to use. Priority:
// 1. Explicit --config flag (non-empty)
// 2. owl.yaml in the working directory (if it exists)
// 3. "" meaning built-in defaults
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

func loadConfig(explicit string) (engine.Config, error) {
	path := resolveConfigPath(explicit)
	if path == "" {
		return engine.Default(), nil
	}

	cfg, err := engine.LoadConfig(path)
	if err != nil {
		return engine.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}

// setupLogging installs the default slog logger. The returned function
// closes the log file, if any.
func setupLogging(cfg engine.LoggingConfig, verbose bool, w io.Writer) (func() error, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	if verbose {
		level = slog.LevelDebug
	}

	closeFn := func() error { return nil }
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // path comes from configuration
		if err != nil {
			return nil, fmt.Errorf("logging: %w", err)
		}
		w = f
		closeFn = f.Close
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))

	return closeFn, nil
}

// resolveKey finds the API key and exports it for OpenAI-compatible
// clients.
func resolveKey(ctx context.Context, a *app, out *console.Console, cfg engine.Config) (credentials.Resolved, error) {
	r := credentials.NewResolver()
	r.PrimaryEnv = cfg.Credentials.PrimaryEnv
	r.FallbackEnv = cfg.Credentials.FallbackEnv

	if cfg.Credentials.Keyring {
		r.Store = credentials.NewKeychain()
	}

	if cfg.Credentials.Prompt {
		prompt := credentials.TerminalPrompt(a.in, a.out)
		r.Prompt = func(ctx context.Context, label string) (string, error) {
			out.Println("No API key found in environment variables.")
			return prompt(ctx, label)
		}
	}

	res, err := r.Resolve(ctx)
	if err != nil {
		return credentials.Resolved{}, err
	}

	if err := credentials.Export(res, cfg.BaseURL, nil); err != nil {
		return credentials.Resolved{}, err
	}

	return res, nil
}

// testConnection prints the connectivity check around check.
func testConnection(ctx context.Context, out *console.Console, key string, check func(context.Context) (string, error)) error {
	out.Println("Testing OpenRouter connection...")
	if masked, ok := credentials.Mask(key); ok {
		out.Printf("Using API key (first 5 chars): %s", masked)
	} else {
		out.Println("Warning: API key seems too short or empty")
	}

	reply, err := check(ctx)
	if err != nil {
		out.Printf("OpenRouter test failed: %v", err)
		return err
	}

	out.Printf("OpenRouter test response: %s", reply)
	return nil
}

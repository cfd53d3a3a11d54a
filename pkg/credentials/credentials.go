// Package credentials resolves the model API key from the environment, an
// optional OS keychain, or an interactive prompt, and exports it for
// downstream OpenAI-compatible clients.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// ErrNoKey is returned when no source produced a key.
var ErrNoKey = errors.New("credentials: no API key")

// Default variable names.
const (
	PrimaryEnv  = "OPENROUTER_API_KEY"
	FallbackEnv = "OPENAI_API_KEY"
	BaseURLEnv  = "OPENAI_API_BASE_URL"

	PromptLabel = "Please enter your OpenRouter API key: "
)

// Source says where a key came from.
type Source string

const (
	SourcePrimary  Source = "primary_env"
	SourceFallback Source = "fallback_env"
	SourceKeyring  Source = "keyring"
	SourcePrompt   Source = "prompt"
)

// Resolved is a key and its origin.
type Resolved struct {
	Key    string
	Source Source
}

// Store is a persistent key store such as the OS keychain.
type Store interface {
	Get() (string, error)
	Set(key string) error
}

// Prompter asks the operator for a key.
type Prompter func(ctx context.Context, label string) (string, error)

// Resolver looks a key up in priority order: primary variable, fallback
// variable, Store, Prompt.
type Resolver struct {
	PrimaryEnv  string
	FallbackEnv string
	Store       Store    // nil disables the keychain.
	Prompt      Prompter // nil disables prompting.
	Getenv      func(string) string

	logger *slog.Logger
}

// NewResolver returns a Resolver using the default variable names and the
// process environment.
func NewResolver() *Resolver {
	return &Resolver{
		PrimaryEnv:  PrimaryEnv,
		FallbackEnv: FallbackEnv,
		Getenv:      os.Getenv,
		logger:      slog.Default().With("component", "credentials"),
	}
}

func (r *Resolver) log() *slog.Logger {
	if r.logger == nil {
		return slog.Default()
	}
	return r.logger
}

// Resolve returns the first non-empty key.
func (r *Resolver) Resolve(ctx context.Context) (Resolved, error) {
	getenv := r.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	if r.PrimaryEnv != "" {
		if key := strings.TrimSpace(getenv(r.PrimaryEnv)); key != "" {
			return Resolved{Key: key, Source: SourcePrimary}, nil
		}
	}

	if r.FallbackEnv != "" {
		if key := strings.TrimSpace(getenv(r.FallbackEnv)); key != "" {
			return Resolved{Key: key, Source: SourceFallback}, nil
		}
	}

	if r.Store != nil {
		key, err := r.Store.Get()
		switch {
		case err != nil:
			r.log().Warn("keychain lookup failed", "error", err)
		case key != "":
			return Resolved{Key: key, Source: SourceKeyring}, nil
		}
	}

	if r.Prompt == nil {
		return Resolved{}, fmt.Errorf("%w: set %s or %s", ErrNoKey, r.PrimaryEnv, r.FallbackEnv)
	}

	key, err := r.Prompt(ctx, PromptLabel)
	if err != nil {
		return Resolved{}, fmt.Errorf("credentials: prompt: %w", err)
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return Resolved{}, fmt.Errorf("%w: empty input", ErrNoKey)
	}

	if r.Store != nil {
		if err := r.Store.Set(key); err != nil {
			r.log().Warn("could not save key to keychain", "error", err)
		} else {
			r.log().Info("key saved to keychain")
		}
	}

	return Resolved{Key: key, Source: SourcePrompt}, nil
}

// Export sets OPENAI_API_KEY and OPENAI_API_BASE_URL. A nil setenv uses
// os.Setenv.
func Export(res Resolved, baseURL string, setenv func(key, value string) error) error {
	if setenv == nil {
		setenv = os.Setenv
	}

	if err := setenv(FallbackEnv, res.Key); err != nil {
		return fmt.Errorf("credentials: export %s: %w", FallbackEnv, err)
	}

	if baseURL != "" {
		if err := setenv(BaseURLEnv, baseURL); err != nil {
			return fmt.Errorf("credentials: export %s: %w", BaseURLEnv, err)
		}
	}

	return nil
}

// Mask returns the first five characters followed by "...". ok is false when
// the key is five characters or shorter and should be flagged instead.
func Mask(key string) (masked string, ok bool) {
	if len(key) <= 5 {
		return "", false
	}
	return key[:5] + "...", true
}

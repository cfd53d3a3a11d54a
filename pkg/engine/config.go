package engine

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/germanamz/owl/pkg/credentials"
	"github.com/germanamz/owl/pkg/models"
	"github.com/germanamz/owl/pkg/probe"
	"github.com/germanamz/owl/pkg/society"
	"github.com/germanamz/owl/pkg/toolkits/audio"
)

// DefaultQuestion is the task run when none is given.
const DefaultQuestion = "find best ai tools in the market"

// Config is the top-level engine configuration.
type Config struct {
	BaseURL        string            `yaml:"base_url"`
	Headers        map[string]string `yaml:"headers"`
	Credentials    CredentialsConfig `yaml:"credentials"`
	Probe          ProbeConfig       `yaml:"probe"`
	Models         ModelsConfig      `yaml:"models"`
	RateLimit      RateLimitConfig   `yaml:"rate_limit"`
	Society        SocietyConfig     `yaml:"society"`
	Retry          RetryConfig       `yaml:"retry"`
	ConstructDelay string            `yaml:"construct_delay"` // Base of the jittered pause between model constructions.
	Toolkits       ToolkitsConfig    `yaml:"toolkits"`
	MCPServers     []MCPConfig       `yaml:"mcp_servers"`
	History        HistoryConfig     `yaml:"history"`
	Logging        LoggingConfig     `yaml:"logging"`
}

// CredentialsConfig controls API key resolution.
type CredentialsConfig struct {
	PrimaryEnv  string `yaml:"primary_env"`
	FallbackEnv string `yaml:"fallback_env"`
	Keyring     bool   `yaml:"keyring"` // Read and store the key in the OS keychain.
	Prompt      bool   `yaml:"prompt"`  // Ask interactively when no key is found.
}

// ProbeConfig controls the connectivity check.
type ProbeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
	Prompt  string `yaml:"prompt"`
}

// ModelsConfig holds one model spec per agent.
type ModelsConfig struct {
	User      models.Spec `yaml:"user"`
	Assistant models.Spec `yaml:"assistant"`
}

// RateLimitConfig controls client-side rate limiting of model calls.
type RateLimitConfig struct {
	InputTPM   int    `yaml:"input_tpm"`   // Input tokens per minute (0 = no limit).
	OutputTPM  int    `yaml:"output_tpm"`  // Output tokens per minute (0 = no limit).
	RPM        int    `yaml:"rpm"`         // Requests per minute (0 = no limit).
	MaxRetries int    `yaml:"max_retries"` // Retries on 429.
	BaseDelay  string `yaml:"base_delay"`  // Initial 429 backoff, e.g. "1s".
}

// SocietyConfig shapes the role-playing conversation.
type SocietyConfig struct {
	RoundLimit      int    `yaml:"round_limit"`
	WithTaskSpecify bool   `yaml:"with_task_specify"`
	MaxIterations   int    `yaml:"max_iterations"` // Completion calls per agent step.
	StepTimeout     string `yaml:"step_timeout"`   // Bound on one agent step, "" = none.
}

// RetryConfig controls whole-run retries.
type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"`
	Jitter      bool   `yaml:"jitter"`
}

// ToolkitsConfig enables the assistant's toolkits.
type ToolkitsConfig struct {
	Browser  BrowserConfig `yaml:"browser"`
	Search   SearchConfig  `yaml:"search"`
	Document ToggleConfig  `yaml:"document"`
	Excel    ToggleConfig  `yaml:"excel"`
	Code     CodeConfig    `yaml:"code"`
	Image    ImageConfig   `yaml:"image"`
	Audio    AudioConfig   `yaml:"audio"`
}

// ToggleConfig is a toolkit without settings.
type ToggleConfig struct {
	Enabled bool `yaml:"enabled"`
}

// BrowserConfig configures the Chrome toolkit.
type BrowserConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Headless bool   `yaml:"headless"`
	Timeout  string `yaml:"timeout"`
	ExecPath string `yaml:"exec_path"`
}

// SearchConfig configures the HTTP search toolkit.
type SearchConfig struct {
	Enabled       bool    `yaml:"enabled"`
	RatePerSecond float64 `yaml:"rate_per_second"`
}

// CodeConfig configures code execution.
type CodeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Timeout string `yaml:"timeout"`
}

// ImageConfig configures image analysis. An empty Model reuses the
// assistant's model.
type ImageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
}

// AudioConfig configures audio transcription. An empty BaseURL uses the
// top-level base URL.
type AudioConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// MCPConfig describes an MCP server whose tools join the assistant.
type MCPConfig struct {
	Name       string            `yaml:"name"`
	Command    string            `yaml:"command"`
	Args       []string          `yaml:"args"`
	Env        map[string]string `yaml:"env"`
	URL        string            `yaml:"url"`
	ToolPrefix string            `yaml:"tool_prefix"` // Prepended to imported tool names.
}

// HistoryConfig enables the run history database.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
	File   string `yaml:"file"`
}

func ptr[T any](v T) *T { return &v }

// Default returns the configuration used when no file is given: OpenRouter,
// GPT-3.5 for both agents at temperature 0, a headed browser, three run
// attempts five seconds apart.
func Default() Config {
	spec := func() models.Spec {
		return models.Spec{
			Platform:    models.PlatformOpenRouter,
			Model:       probe.DefaultModel,
			Temperature: ptr(0.0),
			TopP:        ptr(1.0),
		}
	}

	return Config{
		BaseURL: models.OpenRouterBaseURL,
		Headers: map[string]string{
			"HTTP-Referer": "http://localhost:3000",
			"X-Title":      "OWL Framework",
		},
		Credentials: CredentialsConfig{
			PrimaryEnv:  credentials.PrimaryEnv,
			FallbackEnv: credentials.FallbackEnv,
			Prompt:      true,
		},
		Probe: ProbeConfig{
			Enabled: true,
			Model:   probe.DefaultModel,
			Prompt:  probe.DefaultPrompt,
		},
		Models:         ModelsConfig{User: spec(), Assistant: spec()},
		Society:        SocietyConfig{RoundLimit: society.DefaultRoundLimit, MaxIterations: 10},
		Retry:          RetryConfig{MaxAttempts: 3, BaseDelay: "5s"},
		ConstructDelay: "2s",
		Toolkits: ToolkitsConfig{
			Browser:  BrowserConfig{Enabled: true, Timeout: "30s"},
			Search:   SearchConfig{Enabled: true, RatePerSecond: 1},
			Document: ToggleConfig{Enabled: true},
			Excel:    ToggleConfig{Enabled: true},
			Code:     CodeConfig{Timeout: "60s"},
			Image:    ImageConfig{Enabled: true},
			Audio:    AudioConfig{Model: audio.DefaultModel},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads a YAML file over Default and returns the result.
// Environment variables referenced as ${VAR} or $VAR are expanded before
// parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("engine: load config: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig decodes YAML over Default.
func ParseConfig(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	platforms := models.Platforms()
	for name, spec := range map[string]models.Spec{"user": c.Models.User, "assistant": c.Models.Assistant} {
		if spec.Model == "" {
			return fmt.Errorf("engine: config: models.%s: model is required", name)
		}
		if !slices.Contains(platforms, spec.Platform) {
			return fmt.Errorf("engine: config: models.%s: unknown platform %q", name, spec.Platform)
		}
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("engine: config: retry.max_attempts must be at least 1")
	}

	if c.Society.RoundLimit < 0 {
		return fmt.Errorf("engine: config: society.round_limit must not be negative")
	}

	durations := map[string]string{
		"retry.base_delay":         c.Retry.BaseDelay,
		"construct_delay":          c.ConstructDelay,
		"rate_limit.base_delay":    c.RateLimit.BaseDelay,
		"toolkits.browser.timeout": c.Toolkits.Browser.Timeout,
		"toolkits.code.timeout":    c.Toolkits.Code.Timeout,
		"society.step_timeout":     c.Society.StepTimeout,
	}
	for key, v := range durations {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("engine: config: %s: %w", key, err)
		}
	}

	if !c.Credentials.Prompt && !c.Credentials.Keyring && c.Credentials.PrimaryEnv == "" && c.Credentials.FallbackEnv == "" {
		return fmt.Errorf("engine: config: credentials: no key source enabled")
	}

	mcpNames := make(map[string]struct{}, len(c.MCPServers))
	for _, m := range c.MCPServers {
		if m.Name == "" {
			return fmt.Errorf("engine: config: mcp server name is required")
		}
		if m.Command == "" && m.URL == "" {
			return fmt.Errorf("engine: config: mcp server %q: command or url is required", m.Name)
		}
		if _, dup := mcpNames[m.Name]; dup {
			return fmt.Errorf("engine: config: duplicate mcp server name %q", m.Name)
		}
		mcpNames[m.Name] = struct{}{}
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return fmt.Errorf("engine: config: logging.level: %w", err)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("engine: config: logging.format: unknown format %q", c.Logging.Format)
	}

	return nil
}

// SlogLevel parses Level; empty means info.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	err := lvl.UnmarshalText([]byte(l.Level))
	return lvl, err
}

// parseDuration accepts an empty string as zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// mustDuration is used after Validate.
func mustDuration(s string) time.Duration {
	d, _ := parseDuration(s)
	return d
}

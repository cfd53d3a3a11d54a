// Package models turns a platform and model name into a ready Completer.
package models

import (
	"fmt"
	"maps"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/germanamz/owl/pkg/modeladapter"
	"github.com/germanamz/owl/pkg/providers/anthropic"
	"github.com/germanamz/owl/pkg/providers/gemini"
	"github.com/germanamz/owl/pkg/providers/openai"
)

// Known platforms.
const (
	PlatformOpenRouter = "openrouter"
	PlatformOpenAI     = "openai"
	PlatformXAI        = "xai"
	PlatformAnthropic  = "anthropic"
	PlatformGemini     = "gemini"
)

// Default base URLs per platform. They include the version segment.
const (
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	OpenAIBaseURL     = "https://api.openai.com/v1"
	XAIBaseURL        = "https://api.x.ai/v1"
)

// Spec is the model configuration for one agent.
type Spec struct {
	Platform    string   `yaml:"platform"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	TopP        *float64 `yaml:"top_p"`
	MaxTokens   int      `yaml:"max_tokens"`

	// BaseURL overrides both the connection and the platform default.
	BaseURL string `yaml:"base_url,omitempty"`
	// KeyEnv names a variable holding this model's key instead of the
	// connection key, e.g. ANTHROPIC_API_KEY.
	KeyEnv string `yaml:"key_env,omitempty"`
}

// RateLimit enables RateLimitedCompleter when any field is set.
type RateLimit struct {
	InputTPM   int
	OutputTPM  int
	RPM        int
	MaxRetries int
	BaseDelay  time.Duration
}

func (r RateLimit) enabled() bool {
	return r.InputTPM > 0 || r.OutputTPM > 0 || r.RPM > 0 || r.MaxRetries > 0 || r.BaseDelay > 0
}

// Connection carries the endpoint settings shared by every model.
type Connection struct {
	BaseURL    string // Overrides the platform default when set.
	Key        string
	Headers    map[string]string
	HTTPClient *http.Client
	RateLimit  RateLimit
}

// Factory builds a Completer for one platform.
type Factory func(conn Connection, spec Spec) (modeladapter.Completer, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{
		PlatformOpenRouter: openAICompatible(OpenRouterBaseURL),
		PlatformOpenAI:     openAICompatible(OpenAIBaseURL),
		PlatformXAI:        openAICompatible(XAIBaseURL),
		PlatformAnthropic:  native(anthropic.DefaultBaseURL, anthropicAdapter),
		PlatformGemini:     native(gemini.DefaultBaseURL, geminiAdapter),
	}
)

// Register adds or replaces the factory for platform.
func Register(platform string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	factories[platform] = f
}

// Platforms lists the registered platform names, sorted.
func Platforms() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func lookup(platform string) (Factory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factories[platform]
	return f, ok
}

// New builds the Completer described by spec, wrapped with rate limiting
// when conn.RateLimit is set.
func New(conn Connection, spec Spec) (modeladapter.Completer, error) {
	if spec.Model == "" {
		return nil, fmt.Errorf("models: model is required")
	}

	f, ok := lookup(spec.Platform)
	if !ok {
		return nil, fmt.Errorf("models: unknown platform %q", spec.Platform)
	}

	if spec.KeyEnv != "" {
		conn.Key = os.Getenv(spec.KeyEnv)
		if conn.Key == "" {
			return nil, fmt.Errorf("models: %s is not set", spec.KeyEnv)
		}
	}

	c, err := f(conn, spec)
	if err != nil {
		return nil, fmt.Errorf("models: %s: %w", spec.Platform, err)
	}

	if conn.RateLimit.enabled() {
		rl := conn.RateLimit
		c = modeladapter.NewRateLimitedCompleter(c, modeladapter.RateLimitOpts{
			InputTPM:   rl.InputTPM,
			OutputTPM:  rl.OutputTPM,
			RPM:        rl.RPM,
			MaxRetries: rl.MaxRetries,
			BaseDelay:  rl.BaseDelay,
		})
	}

	return c, nil
}

func openAICompatible(defaultBaseURL string) Factory {
	return func(conn Connection, spec Spec) (modeladapter.Completer, error) {
		baseURL := spec.BaseURL
		if baseURL == "" {
			baseURL = conn.BaseURL
		}
		if baseURL == "" {
			baseURL = defaultBaseURL
		}

		a := openai.New(baseURL, conn.Key, spec.Model)
		configure(&a.ModelAdapter, conn, spec)

		return a, nil
	}
}

// native builds a platform with its own protocol. The connection base URL
// points at the OpenAI-compatible endpoint and is ignored here.
func native(defaultBaseURL string, build func(baseURL, key, model string) (modeladapter.Completer, *modeladapter.ModelAdapter)) Factory {
	return func(conn Connection, spec Spec) (modeladapter.Completer, error) {
		baseURL := spec.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL
		}

		c, base := build(baseURL, conn.Key, spec.Model)
		configure(base, conn, spec)

		return c, nil
	}
}

func anthropicAdapter(baseURL, key, model string) (modeladapter.Completer, *modeladapter.ModelAdapter) {
	a := anthropic.New(baseURL, key, model)
	return a, &a.ModelAdapter
}

func geminiAdapter(baseURL, key, model string) (modeladapter.Completer, *modeladapter.ModelAdapter) {
	a := gemini.New(baseURL, key, model)
	return a, &a.ModelAdapter
}

// configure applies sampling, limits, client and extra headers. Headers the
// adapter set itself win over connection headers.
func configure(a *modeladapter.ModelAdapter, conn Connection, spec Spec) {
	a.Temperature = spec.Temperature
	a.TopP = spec.TopP
	if spec.MaxTokens > 0 {
		a.MaxTokens = spec.MaxTokens
	}
	a.Client = conn.HTTPClient

	if len(conn.Headers) == 0 {
		return
	}

	headers := maps.Clone(conn.Headers)
	maps.Copy(headers, a.Headers)
	a.Headers = headers
}

// Package llm abstracts text-generation providers behind a single Gateway
// contract used for question generation and open-ended grading.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderYandex    = "yandex"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderLocal     = "local"
)

// Prompt is a single completion request.
type Prompt struct {
	// Key identifies the logical request (slot or question) for logging and
	// for the stub's deterministic output.
	Key         string
	System      string
	User        string
	Temperature float32
	// Inputs carries the structured values the prompt was rendered from.
	// Real providers ignore it.
	Inputs map[string]string
}

// Gateway is a text-generation provider.
type Gateway interface {
	// Complete returns the raw completion text. Provider failures are
	// reported as *ProviderError.
	Complete(ctx context.Context, p Prompt, hint SchemaHint) (string, error)
	// Embed returns an embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Name identifies the provider and model for logs and metrics.
	Name() string
}

// Config selects and configures a gateway.
type Config struct {
	Provider string
	Model    string

	OpenAIKey string
	OpenAIURL string

	YandexKey      string
	YandexFolder   string
	YandexEndpoint string

	AnthropicKey string
	AnthropicURL string

	GeminiKey string

	// RatePerSecond limits calls through the gateway; 0 disables limiting.
	RatePerSecond float64
	// AllowStubFallback substitutes the local stub when the selected
	// provider has no credentials.
	AllowStubFallback bool
}

// Default model names per provider.
const (
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultYandexModel    = "yandexgpt-lite"
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
	DefaultGeminiModel    = "gemini-2.0-flash"
)

// New builds the gateway named by cfg.Provider.
func New(cfg Config) (Gateway, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderLocal
	}

	var (
		gw      Gateway
		missing string
		err     error
	)
	switch provider {
	case ProviderLocal:
		gw = NewStub()
	case ProviderOpenAI:
		if cfg.OpenAIKey == "" && cfg.OpenAIURL == "" {
			missing = "openai-key"
			break
		}
		gw = NewOpenAI(cfg.OpenAIURL, cfg.OpenAIKey, orDefault(cfg.Model, DefaultOpenAIModel))
	case ProviderYandex:
		if cfg.YandexKey == "" || cfg.YandexFolder == "" {
			missing = "yandex-key/yandex-folder"
			break
		}
		gw = NewYandex(cfg.YandexEndpoint, cfg.YandexKey, cfg.YandexFolder, orDefault(cfg.Model, DefaultYandexModel))
	case ProviderAnthropic:
		if cfg.AnthropicKey == "" {
			missing = "anthropic-key"
			break
		}
		gw = NewAnthropic(cfg.AnthropicURL, cfg.AnthropicKey, orDefault(cfg.Model, DefaultAnthropicModel))
	case ProviderGemini:
		if cfg.GeminiKey == "" {
			missing = "gemini-key"
			break
		}
		gw, err = NewGemini(context.Background(), cfg.GeminiKey, orDefault(cfg.Model, DefaultGeminiModel))
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}

	if missing != "" {
		if !cfg.AllowStubFallback {
			return nil, fmt.Errorf("provider %s: missing credentials (%s)", provider, missing)
		}
		slog.Warn("LLM credentials missing, using local stub", "provider", provider, "missing", missing)
		gw = NewStub()
	}

	if cfg.RatePerSecond > 0 {
		gw = NewLimited(gw, cfg.RatePerSecond, 1)
	}
	return gw, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 2048

// ErrEmbeddingsUnsupported is returned by gateways without an embeddings API.
var ErrEmbeddingsUnsupported = errors.New("embeddings not supported by provider")

// AnthropicGateway calls the Anthropic Messages API.
type AnthropicGateway struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates an Anthropic gateway. baseURL is optional. The SDK's
// own retries are off; failed calls go back to the caller's retry policy.
func NewAnthropic(baseURL, apiKey, modelName string) *AnthropicGateway {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicGateway{
		client: anthropic.NewClient(opts...),
		model:  modelName,
	}
}

// Name returns the provider and model.
func (g *AnthropicGateway) Name() string { return ProviderAnthropic + "/" + g.model }

// Complete sends a single-turn message. The API has no JSON mode, so when a
// schema hint is given the schema is appended to the system prompt.
func (g *AnthropicGateway) Complete(ctx context.Context, p Prompt, hint SchemaHint) (string, error) {
	system := p.System
	if schema := Schema(hint); schema != nil {
		system += "\n\nRespond with a single JSON object matching this JSON schema:\n" + string(schema)
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(g.model),
		MaxTokens:   anthropicMaxTokens,
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(p.User))},
		Temperature: anthropic.Float(float64(p.Temperature)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := g.client.Messages.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return "", newProviderError(ProviderAnthropic, g.model, status, fmt.Errorf("anthropic API call: %w", err))
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", &ProviderError{Provider: ProviderAnthropic, Model: g.model, Reason: ReasonEmpty, Err: errors.New("no text content in response")}
	}
	raw := sb.String()
	slog.Debug("LLM response", "provider", ProviderAnthropic, "key", p.Key, "raw", raw)
	return raw, nil
}

// Embed is not offered by the Anthropic API.
func (g *AnthropicGateway) Embed(context.Context, string) ([]float32, error) {
	return nil, &ProviderError{Provider: ProviderAnthropic, Model: g.model, Reason: ReasonInvalidRequest, Err: ErrEmbeddingsUnsupported}
}

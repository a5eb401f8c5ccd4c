package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIGateway talks to any OpenAI-compatible chat completions API
// (OpenAI, Ollama, vLLM).
type OpenAIGateway struct {
	api        *openai.Client
	model      string
	embedModel openai.EmbeddingModel
}

// NewOpenAI creates a gateway for an OpenAI-compatible endpoint.
func NewOpenAI(baseURL, apiKey, modelName string) *OpenAIGateway {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIGateway{
		api:        openai.NewClientWithConfig(config),
		model:      modelName,
		embedModel: openai.SmallEmbedding3,
	}
}

// Name returns the provider and model.
func (g *OpenAIGateway) Name() string { return ProviderOpenAI + "/" + g.model }

// Complete sends a system and user message and returns the first choice.
// JSON-object response format is requested whenever a schema hint is given.
func (g *OpenAIGateway) Complete(ctx context.Context, p Prompt, hint SchemaHint) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if p.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: p.User})

	req := openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    msgs,
		Temperature: p.Temperature,
	}
	if hint != SchemaNone {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := g.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", g.wrap(fmt.Errorf("LLM API call: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: ProviderOpenAI, Model: g.model, Reason: ReasonEmpty, Err: errors.New("LLM returned no choices")}
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "provider", ProviderOpenAI, "key", p.Key, "raw", raw)
	return raw, nil
}

// Embed returns an embedding for text.
func (g *OpenAIGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.api.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: g.embedModel,
	})
	if err != nil {
		return nil, g.wrap(fmt.Errorf("embeddings API call: %w", err))
	}
	if len(resp.Data) == 0 {
		return nil, &ProviderError{Provider: ProviderOpenAI, Model: string(g.embedModel), Reason: ReasonEmpty, Err: errors.New("no embedding returned")}
	}
	return resp.Data[0].Embedding, nil
}

// Ping checks connectivity by listing models.
func (g *OpenAIGateway) Ping(ctx context.Context) error {
	if _, err := g.api.ListModels(ctx); err != nil {
		return g.wrap(fmt.Errorf("list models: %w", err))
	}
	return nil
}

func (g *OpenAIGateway) wrap(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return newProviderError(ProviderOpenAI, g.model, status, err)
}

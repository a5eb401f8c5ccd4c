package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

const geminiEmbedModel = "text-embedding-004"

// GeminiGateway calls the Gemini API through the Google Gen AI SDK.
type GeminiGateway struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini gateway.
func NewGemini(ctx context.Context, apiKey, modelName string) (*GeminiGateway, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiGateway{client: client, model: modelName}, nil
}

// Name returns the provider and model.
func (g *GeminiGateway) Name() string { return ProviderGemini + "/" + g.model }

// Complete generates content, asking for a JSON response when a schema hint
// is given.
func (g *GeminiGateway) Complete(ctx context.Context, p Prompt, hint SchemaHint) (string, error) {
	temp := p.Temperature
	cfg := &genai.GenerateContentConfig{Temperature: &temp}
	if p.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: p.System}}}
	}
	if hint != SchemaNone {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(p.User), cfg)
	if err != nil {
		return "", g.wrap(fmt.Errorf("gemini API call: %w", err))
	}
	raw := resp.Text()
	if raw == "" {
		return "", &ProviderError{Provider: ProviderGemini, Model: g.model, Reason: ReasonEmpty, Err: errors.New("no text in response")}
	}
	slog.Debug("LLM response", "provider", ProviderGemini, "key", p.Key, "raw", raw)
	return raw, nil
}

// Embed returns an embedding for text.
func (g *GeminiGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.client.Models.EmbedContent(ctx, geminiEmbedModel, genai.Text(text), nil)
	if err != nil {
		return nil, g.wrap(fmt.Errorf("gemini embed call: %w", err))
	}
	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, &ProviderError{Provider: ProviderGemini, Model: geminiEmbedModel, Reason: ReasonEmpty, Err: errors.New("no embedding returned")}
	}
	return resp.Embeddings[0].Values, nil
}

func (g *GeminiGateway) wrap(err error) error {
	status := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.Code
	case errors.As(err, &apiErrPtr):
		status = apiErrPtr.Code
	}
	return newProviderError(ProviderGemini, g.model, status, err)
}

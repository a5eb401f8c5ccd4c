package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultYandexEndpoint is the Foundation Models API base URL.
const DefaultYandexEndpoint = "https://llm.api.cloud.yandex.net/foundationModels/v1"

const yandexMaxTokens = 2000

// YandexGateway calls the YandexGPT Foundation Models REST API.
type YandexGateway struct {
	endpoint string
	apiKey   string
	folder   string
	model    string
	http     *http.Client
}

// NewYandex creates a YandexGPT gateway. An empty endpoint selects the
// public API.
func NewYandex(endpoint, apiKey, folder, modelName string) *YandexGateway {
	if endpoint == "" {
		endpoint = DefaultYandexEndpoint
	}
	return &YandexGateway{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		folder:   folder,
		model:    modelName,
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

type yandexMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type yandexCompletionRequest struct {
	ModelURI          string          `json:"modelUri"`
	CompletionOptions yandexOptions   `json:"completionOptions"`
	Messages          []yandexMessage `json:"messages"`
}

type yandexOptions struct {
	Stream      bool    `json:"stream"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

type yandexCompletionResponse struct {
	Result struct {
		Alternatives []struct {
			Message yandexMessage `json:"message"`
			Status  string        `json:"status"`
		} `json:"alternatives"`
	} `json:"result"`
}

type yandexEmbeddingRequest struct {
	ModelURI string `json:"modelUri"`
	Text     string `json:"text"`
}

type yandexEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Name returns the provider and model.
func (g *YandexGateway) Name() string { return ProviderYandex + "/" + g.model }

// Complete sends a completion request and returns the first alternative.
func (g *YandexGateway) Complete(ctx context.Context, p Prompt, _ SchemaHint) (string, error) {
	req := yandexCompletionRequest{
		ModelURI: fmt.Sprintf("gpt://%s/%s/latest", g.folder, g.model),
		CompletionOptions: yandexOptions{
			Temperature: p.Temperature,
			MaxTokens:   yandexMaxTokens,
		},
	}
	if p.System != "" {
		req.Messages = append(req.Messages, yandexMessage{Role: "system", Text: p.System})
	}
	req.Messages = append(req.Messages, yandexMessage{Role: "user", Text: p.User})

	var resp yandexCompletionResponse
	if err := g.post(ctx, "/completion", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Result.Alternatives) == 0 {
		return "", &ProviderError{Provider: ProviderYandex, Model: g.model, Reason: ReasonEmpty, Err: errors.New("no alternatives in response")}
	}
	raw := resp.Result.Alternatives[0].Message.Text
	slog.Debug("LLM response", "provider", ProviderYandex, "key", p.Key, "raw", raw)
	return raw, nil
}

// Embed returns a document embedding for text.
func (g *YandexGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	req := yandexEmbeddingRequest{
		ModelURI: fmt.Sprintf("emb://%s/text-search-doc/latest", g.folder),
		Text:     text,
	}
	var resp yandexEmbeddingResponse
	if err := g.post(ctx, "/textEmbedding", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, &ProviderError{Provider: ProviderYandex, Model: "text-search-doc", Reason: ReasonEmpty, Err: errors.New("no embedding returned")}
	}
	return resp.Embedding, nil
}

func (g *YandexGateway) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode yandex request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build yandex request: %w", err)
	}
	req.Header.Set("Authorization", "Api-Key "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if g.folder != "" {
		req.Header.Set("x-folder-id", g.folder)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return newProviderError(ProviderYandex, g.model, 0, fmt.Errorf("yandex API call: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return newProviderError(ProviderYandex, g.model, resp.StatusCode, fmt.Errorf("read yandex response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return newProviderError(ProviderYandex, g.model, resp.StatusCode,
			fmt.Errorf("yandex API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ProviderError{Provider: ProviderYandex, Model: g.model, Status: resp.StatusCode, Reason: ReasonServerError,
			Err: fmt.Errorf("invalid response from yandex API: %w", err)}
	}
	return nil
}

package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OllamaEmbedClient handles Ollama-native embedding API.
type OllamaEmbedClient struct {
	baseURL string
	client  *http.Client
}

// NewOllamaEmbedClientWithConfig creates a client for Ollama's native embedding API.
func NewOllamaEmbedClientWithConfig(cfg ClientConfig) *OllamaEmbedClient {
	host := strings.TrimSuffix(cfg.BaseURL, "/")
	// Handle both /v1 suffix and bare host
	host = strings.TrimSuffix(host, "/v1")
	if host == "" {
		host = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultClientConfig().Timeout
	}
	return &OllamaEmbedClient{
		baseURL: host,
		client:  &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}
}

// Embed generates an embedding for a single input using Ollama's /api/embed.
func (c *OllamaEmbedClient) Embed(ctx context.Context, model, input string) (*EmbeddingResponse, error) {
	reqBody := map[string]any{
		"model": model,
		"input": input,
	}

	var result ollamaEmbedResponse
	if err := postJSON(ctx, c.client, c.baseURL+"/api/embed", nil, reqBody, &result); err != nil {
		return nil, err
	}

	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings in response", ErrMalformedResponse)
	}

	return &EmbeddingResponse{
		Embedding:  result.Embeddings[0],
		TokenCount: result.PromptEvalCount,
	}, nil
}

type ollamaEmbedResponse struct {
	Embeddings      [][]float64 `json:"embeddings"`
	PromptEvalCount int         `json:"prompt_eval_count"`
}

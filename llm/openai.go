package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient talks to OpenAI and OpenAI-compatible providers.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	dimensions int
	client     *http.Client
}

func NewOpenAIClientWithConfig(cfg ClientConfig) *OpenAIClient {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultClientConfig().Timeout
	}
	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}
}

func (c *OpenAIClient) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

func (c *OpenAIClient) Chat(ctx context.Context, model string, system, user string, opts ChatOptions) (*LLMResponse, error) {
	messages := make([]Message, 0, 2)
	if system != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, Message{Role: "user", Content: user})

	reqBody := map[string]any{
		"model":    model,
		"messages": messages,
	}
	if opts.JSON {
		reqBody["response_format"] = map[string]string{"type": "json_object"}
	}
	if opts.MaxTokens > 0 {
		reqBody["max_tokens"] = opts.MaxTokens
	}
	if opts.Temperature != nil {
		reqBody["temperature"] = *opts.Temperature
	}

	var result openAIResponse
	if err := postJSON(ctx, c.client, c.baseURL+"/chat/completions", c.headers(), reqBody, &result); err != nil {
		return nil, err
	}

	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", ErrMalformedResponse)
	}

	choice := result.Choices[0]
	return &LLMResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
	}, nil
}

// Embed generates an embedding for a single input via /embeddings.
func (c *OpenAIClient) Embed(ctx context.Context, model, input string) (*EmbeddingResponse, error) {
	reqBody := map[string]any{
		"model":           model,
		"input":           input,
		"encoding_format": "float",
	}
	if c.dimensions > 0 {
		reqBody["dimensions"] = c.dimensions
	}

	var result openAIEmbeddingResponse
	if err := postJSON(ctx, c.client, c.baseURL+"/embeddings", c.headers(), reqBody, &result); err != nil {
		return nil, err
	}

	if len(result.Data) == 0 {
		return nil, fmt.Errorf("%w: no embeddings in response", ErrMalformedResponse)
	}

	return &EmbeddingResponse{
		Embedding:  result.Data[0].Embedding,
		TokenCount: result.Usage.TotalTokens,
	}, nil
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIChoice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

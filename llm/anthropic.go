package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultAnthropicBaseURL = "https://api.anthropic.com/v1"

type AnthropicClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	version string
}

func NewAnthropicClientWithConfig(cfg ClientConfig) *AnthropicClient {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultClientConfig().Timeout
	}
	return &AnthropicClient{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: time.Duration(timeout) * time.Second},
		version: "2023-06-01",
	}
}

// Chat sends a single-turn request to /messages. Anthropic has no JSON
// response mode; opts.JSON is left to the prompt.
func (c *AnthropicClient) Chat(ctx context.Context, model string, system, user string, opts ChatOptions) (*LLMResponse, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	reqBody := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages":   []Message{{Role: "user", Content: user}},
	}
	if system != "" {
		reqBody["system"] = system
	}
	if opts.Temperature != nil {
		reqBody["temperature"] = *opts.Temperature
	}

	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": c.version,
	}

	var result anthropicResponse
	if err := postJSON(ctx, c.client, c.baseURL+"/messages", headers, reqBody, &result); err != nil {
		return nil, err
	}

	return c.parseResponse(result)
}

func (c *AnthropicClient) parseResponse(resp anthropicResponse) (*LLMResponse, error) {
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("%w: no content blocks in response", ErrMalformedResponse)
	}

	return &LLMResponse{
		Content:      sb.String(),
		FinishReason: resp.StopReason,
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

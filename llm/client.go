package llm

import (
	"context"
	"fmt"
)

// Client is a chat-completion model.
type Client interface {
	Chat(ctx context.Context, model string, system, user string, opts ChatOptions) (*LLMResponse, error)
}

// EmbeddingClient turns text into a single embedding vector.
type EmbeddingClient interface {
	Embed(ctx context.Context, model, input string) (*EmbeddingResponse, error)
}

type ClientConfig struct {
	APIKey  string
	BaseURL string
	Timeout int // seconds
	// Dimensions is forwarded to providers that can truncate embeddings.
	Dimensions int
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout: 60,
	}
}

const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
)

// NewEmbeddingClient builds the embedding client for provider.
func NewEmbeddingClient(provider string, cfg ClientConfig) (EmbeddingClient, error) {
	switch provider {
	case ProviderOpenAI, "":
		return NewOpenAIClientWithConfig(cfg), nil
	case ProviderOllama:
		return NewOllamaEmbedClientWithConfig(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", provider)
	}
}

// NewChatClient builds the chat client for provider. Ollama is served
// through its OpenAI-compatible endpoint.
func NewChatClient(provider string, cfg ClientConfig) (Client, error) {
	switch provider {
	case ProviderOpenAI, ProviderOllama, "":
		return NewOpenAIClientWithConfig(cfg), nil
	case ProviderAnthropic:
		return NewAnthropicClientWithConfig(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported chat provider %q", provider)
	}
}

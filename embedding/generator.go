// Package embedding turns memo text into vectors and keeps the stored
// embedding of each memo usable.
package embedding

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lxw15337674/memox-sub000/core"
	"github.com/lxw15337674/memox-sub000/llm"
	"github.com/lxw15337674/memox-sub000/monitor"
)

// TextEmbedder produces an embedding for a piece of text.
type TextEmbedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

type GeneratorConfig struct {
	Model      string
	Dimensions int
	Logger     *slog.Logger
	Metrics    *monitor.Metrics
}

// Generator calls the remote embedding model. Every failure is returned as
// a *core.EmbeddingServiceError.
type Generator struct {
	client  llm.EmbeddingClient
	model   string
	dim     int
	logger  *slog.Logger
	metrics *monitor.Metrics
}

func NewGenerator(client llm.EmbeddingClient, cfg GeneratorConfig) *Generator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		client:  client,
		model:   cfg.Model,
		dim:     cfg.Dimensions,
		logger:  logger.With("component", "embedding"),
		metrics: cfg.Metrics,
	}
}

// Generate returns the embedding of text. Blank text fails with
// INVALID_INPUT without contacting the model.
func (g *Generator) Generate(ctx context.Context, text string) ([]float32, error) {
	vec, err := g.generate(ctx, text)
	if err != nil {
		g.metrics.EmbeddingGenerated(string(core.CodeOf(err)))
		return nil, err
	}
	g.metrics.EmbeddingGenerated("ok")
	return vec, nil
}

func (g *Generator) generate(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, core.NewError(core.CodeInvalidInput, "text is empty", nil)
	}

	resp, err := g.client.Embed(ctx, g.model, text)
	if err != nil {
		return nil, classify(err)
	}
	if resp == nil || len(resp.Embedding) == 0 {
		return nil, core.NewError(core.CodeInvalidResponse, "embedding response contained no vector", nil)
	}

	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, core.NewError(core.CodeInvalidResponse, "embedding response contained a non-finite value", nil)
		}
		vec[i] = float32(v)
	}

	if g.dim > 0 && len(vec) != g.dim {
		g.logger.Warn("embedding dimension mismatch", "expected", g.dim, "got", len(vec), "model", g.model)
	}
	return vec, nil
}

func classify(err error) error {
	var apiErr *llm.APIError
	switch {
	case errors.As(err, &apiErr):
		return core.NewUpstreamError(apiErr.StatusCode, apiErr.Code, "embedding request failed", err)
	case errors.Is(err, llm.ErrMalformedResponse):
		return core.NewError(core.CodeInvalidResponse, "embedding response was malformed", err)
	default:
		return core.NewError(core.CodeUnknown, "embedding request failed", err)
	}
}

// MemoGenerator remembers recent query embeddings so repeated identical
// searches skip the remote call. Failures are not remembered.
type MemoGenerator struct {
	next  TextEmbedder
	cache *lru.Cache[string, []float32]
}

// NewMemoGenerator wraps next with an LRU of the given size. A size of zero
// or less returns next unchanged.
func NewMemoGenerator(next TextEmbedder, size int) (TextEmbedder, error) {
	if size <= 0 {
		return next, nil
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &MemoGenerator{next: next, cache: c}, nil
}

func (m *MemoGenerator) Generate(ctx context.Context, text string) ([]float32, error) {
	key := strings.TrimSpace(text)
	if vec, ok := m.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := m.next.Generate(ctx, text)
	if err != nil {
		return nil, err
	}
	m.cache.Add(key, vec)
	return vec, nil
}

package embedding

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lxw15337674/memox-sub000/core"
	"github.com/lxw15337674/memox-sub000/llm"
)

type fakeClient struct {
	mu     sync.Mutex
	calls  int
	inputs []string
	resp   *llm.EmbeddingResponse
	err    error
}

func (f *fakeClient) Embed(_ context.Context, _ string, input string) (*llm.EmbeddingResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, input)
	return f.resp, f.err
}

func TestGenerator_EmptyTextNeverCallsModel(t *testing.T) {
	client := &fakeClient{}
	g := NewGenerator(client, GeneratorConfig{Dimensions: 3})

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := g.Generate(context.Background(), text)
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	}
	assert.Equal(t, 0, client.calls)
}

func TestGenerator_Success(t *testing.T) {
	client := &fakeClient{resp: &llm.EmbeddingResponse{Embedding: []float64{0.25, -0.5, 1}}}
	g := NewGenerator(client, GeneratorConfig{Model: "m", Dimensions: 3})

	vec, err := g.Generate(context.Background(), "  hello world ")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -0.5, 1}, vec)
	assert.Equal(t, []string{"hello world"}, client.inputs)
}

func TestGenerator_DimensionMismatchStillReturns(t *testing.T) {
	client := &fakeClient{resp: &llm.EmbeddingResponse{Embedding: []float64{1, 2}}}
	g := NewGenerator(client, GeneratorConfig{Dimensions: 3})

	vec, err := g.Generate(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, vec, 2)
}

func TestGenerator_ErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		resp *llm.EmbeddingResponse
		err  error
		want *core.EmbeddingServiceError
	}{
		{"api error", nil, &llm.APIError{StatusCode: 401, Code: "invalid_api_key", Message: "bad key"}, core.ErrUpstreamAPI},
		{"malformed text not wrapped", nil, errors.New("x: " + llm.ErrMalformedResponse.Error()), core.ErrUnknown},
		{"wrapped malformed", nil, errors.Join(errors.New("decode"), llm.ErrMalformedResponse), core.ErrInvalidResponse},
		{"nil response", nil, nil, core.ErrInvalidResponse},
		{"empty vector", &llm.EmbeddingResponse{}, nil, core.ErrInvalidResponse},
		{"nan", &llm.EmbeddingResponse{Embedding: []float64{1, math.NaN()}}, nil, core.ErrInvalidResponse},
		{"inf", &llm.EmbeddingResponse{Embedding: []float64{math.Inf(1)}}, nil, core.ErrInvalidResponse},
		{"transport", nil, errors.New("connection refused"), core.ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGenerator(&fakeClient{resp: tt.resp, err: tt.err}, GeneratorConfig{})
			_, err := g.Generate(context.Background(), "text")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGenerator_UpstreamStatusPreserved(t *testing.T) {
	apiErr := &llm.APIError{StatusCode: 429, Code: "rate_limit", Message: "slow down"}
	g := NewGenerator(&fakeClient{err: apiErr}, GeneratorConfig{})

	_, err := g.Generate(context.Background(), "text")

	var svc *core.EmbeddingServiceError
	require.True(t, errors.As(err, &svc))
	assert.Equal(t, core.CodeUpstreamAPI, svc.Code)
	assert.Equal(t, 429, svc.Status)
	assert.Equal(t, "rate_limit", svc.UpstreamCode)
}

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	vec   []float32
	err   error
}

func (c *countingEmbedder) Generate(_ context.Context, _ string) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.vec, nil
}

func (c *countingEmbedder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestMemoGenerator_ReusesQueryVectors(t *testing.T) {
	inner := &countingEmbedder{vec: []float32{1, 2}}
	g, err := NewMemoGenerator(inner, 8)
	require.NoError(t, err)

	for _, q := range []string{"coffee", " coffee ", "coffee"} {
		vec, err := g.Generate(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 2}, vec)
	}
	assert.Equal(t, 1, inner.count())

	_, err = g.Generate(context.Background(), "tea")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.count())
}

func TestMemoGenerator_DoesNotRememberFailures(t *testing.T) {
	inner := &countingEmbedder{err: core.NewError(core.CodeUnknown, "down", nil)}
	g, err := NewMemoGenerator(inner, 8)
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "q")
	require.Error(t, err)
	_, err = g.Generate(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, 2, inner.count())
}

func TestMemoGenerator_Disabled(t *testing.T) {
	inner := &countingEmbedder{}
	g, err := NewMemoGenerator(inner, 0)
	require.NoError(t, err)
	assert.Same(t, inner, g)
}

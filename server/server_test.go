package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lxw15337674/memox-sub000/assistant"
	"github.com/lxw15337674/memox-sub000/cache"
	"github.com/lxw15337674/memox-sub000/core"
	"github.com/lxw15337674/memox-sub000/embedding"
	"github.com/lxw15337674/memox-sub000/monitor"
	"github.com/lxw15337674/memox-sub000/search"
	"github.com/lxw15337674/memox-sub000/server/store"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	vecs  map[string][]float32
	err   error
	calls int
}

func (f *fakeEmbedder) Generate(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if strings.TrimSpace(text) == "" {
		return nil, core.NewError(core.CodeInvalidInput, "text is empty", nil)
	}
	v, ok := f.vecs[text]
	if !ok {
		return nil, core.NewError(core.CodeInvalidResponse, "no vector for "+text, nil)
	}
	return v, nil
}

func (f *fakeEmbedder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAssistant struct {
	mu      sync.Mutex
	answers int
	sources []search.Result
	err     error
}

func (f *fakeAssistant) Answer(_ context.Context, query string, sources []search.Result) (assistant.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers++
	f.sources = sources
	if f.err != nil {
		return assistant.Answer{}, f.err
	}
	return assistant.Answer{Text: "About " + query, KeyPoints: []string{"point"}, Structured: true}, nil
}

func (f *fakeAssistant) Insights(_ context.Context, memos []store.Memo) (assistant.Insights, error) {
	return assistant.Insights{Summary: "summary", Themes: []string{"coffee"}, Suggestions: []string{}}, nil
}

type fixture struct {
	handler  http.Handler
	store    *store.SQLiteStore
	embedder *fakeEmbedder
	asst     *fakeAssistant
	repo     *embedding.Repository
	ids      map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenSQLite(":memory:", 2)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	ids := map[string]string{}
	seed := func(name, content string, vec []float32) {
		m, err := st.CreateMemo(ctx, content)
		require.NoError(t, err)
		if vec != nil {
			require.NoError(t, st.UpdateEmbedding(ctx, m.ID, vec))
		}
		ids[name] = m.ID
	}
	seed("espresso", "espresso notes", []float32{1, 0})
	seed("latte", "latte art", []float32{0.8, 0.6})
	seed("taxes", "tax forms", []float32{0, 1})
	seed("beans", "coffee beans", nil)
	seed("blank", "   ", nil)

	emb := &fakeEmbedder{vecs: map[string][]float32{
		"coffee":       {1, 0},
		"unrelated":    {-1, 0},
		"coffee beans": {0.6, 0.8},
	}}
	asst := &fakeAssistant{}
	metrics := monitor.New()
	repo := embedding.NewRepository(st, emb, 2, embedding.WithMetrics(metrics))

	srv := New(Config{
		Embedder:   emb,
		Embeddings: repo,
		Searcher:   search.NewEngine(st, search.WithMetrics(metrics)),
		Formatter:  search.NewFormatter(search.FormatterOptions{Location: time.UTC}),
		Assistant:  asst,
		Memos:      st,
		Cache:      cache.New(cache.NewMemoryBackend(), cache.WithMetrics(metrics)),
		Metrics:    metrics,
		Related:    Limits{TopK: 10, MaxDistance: 0.5},
		Search:     Limits{TopK: 30, MaxDistance: 0.5},
	})
	t.Cleanup(repo.Wait)

	return &fixture{handler: srv.Handler(), store: st, embedder: emb, asst: asst, repo: repo, ids: ids}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSearch_ReturnsThresholdedSources(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/search", `{"query":"coffee"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[SearchResponse](t, rec)
	assert.Equal(t, "About coffee", resp.Answer)
	assert.Equal(t, []string{"point"}, resp.KeyPoints)
	require.Equal(t, 2, resp.ResultsCount)
	assert.Equal(t, f.ids["espresso"], resp.Sources[0].ID)
	assert.Equal(t, f.ids["latte"], resp.Sources[1].ID)
	require.NotNil(t, resp.Sources[1].Similarity)
	assert.InDelta(t, 0.8, *resp.Sources[1].Similarity, 1e-6)
	assert.False(t, resp.Cache.Hit)
}

func TestSearch_SecondIdenticalRequestHitsCache(t *testing.T) {
	f := newFixture(t)

	first := f.do(t, http.MethodPost, "/api/search", `{"query":"coffee"}`)
	require.Equal(t, http.StatusOK, first.Code)
	second := f.do(t, http.MethodPost, "/api/search", `{"query":"  coffee "}`)
	require.Equal(t, http.StatusOK, second.Code)

	a := decode[SearchResponse](t, first)
	b := decode[SearchResponse](t, second)
	assert.False(t, a.Cache.Hit)
	assert.True(t, b.Cache.Hit)
	assert.GreaterOrEqual(t, b.Cache.AgeSec, int64(0))
	assert.Equal(t, a.SearchPayload, b.SearchPayload)
	assert.Equal(t, 1, f.embedder.count())
	assert.Equal(t, 1, f.asst.answers)
}

func TestSearch_EmptyQueryRejectedBeforeEmbedding(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{`{"query":""}`, `{"query":"   "}`, `{}`} {
		rec := f.do(t, http.MethodPost, "/api/search", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, core.CodeInvalidInput, decode[ErrorResponse](t, rec).Code)
	}
	assert.Equal(t, 0, f.embedder.count())
}

func TestSearch_MalformedJSON(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/search", `{"query":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch_NoResultsIsNotAnError(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/search", `{"query":"unrelated"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[SearchResponse](t, rec)
	assert.Equal(t, 0, resp.ResultsCount)
	assert.Empty(t, resp.Sources)
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, 0, f.asst.answers)
	assert.Contains(t, rec.Body.String(), `"sources":[]`)
}

func TestSearch_UpstreamFailureIsNotCached(t *testing.T) {
	f := newFixture(t)
	f.embedder.err = core.NewUpstreamError(503, "overloaded", "embedding request failed", nil)

	rec := f.do(t, http.MethodPost, "/api/search", `{"query":"coffee"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, core.CodeUpstreamAPI, errResp.Code)
	assert.Contains(t, errResp.Error, "503")

	f.embedder.mu.Lock()
	f.embedder.err = nil
	f.embedder.mu.Unlock()

	rec = f.do(t, http.MethodPost, "/api/search", `{"query":"coffee"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[SearchResponse](t, rec).Cache.Hit)
}

func TestRelated_ExcludesSelf(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/related", `{"memoId":"`+f.ids["espresso"]+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[RelatedResponse](t, rec)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, f.ids["latte"], resp.RelatedMemos[0].ID)
	assert.Equal(t, 0, f.embedder.count())
}

func TestRelated_GeneratesMissingEmbedding(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/related", `{"memoId":"`+f.ids["beans"]+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, f.embedder.count())

	for _, r := range decode[RelatedResponse](t, rec).RelatedMemos {
		assert.NotEqual(t, f.ids["beans"], r.ID)
	}

	f.repo.Wait()
	m, err := f.store.GetMemo(context.Background(), f.ids["beans"])
	require.NoError(t, err)
	assert.Len(t, m.Embedding, 8)
}

func TestRelated_ErrorStatuses(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   core.Code
	}{
		{"missing id", `{}`, http.StatusBadRequest, core.CodeInvalidInput},
		{"unknown memo", `{"memoId":"nope"}`, http.StatusNotFound, core.CodeNotFound},
		{"empty content", `{"memoId":"` + f.ids["blank"] + `"}`, http.StatusUnprocessableEntity, core.CodeEmptyContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/related", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
	assert.Equal(t, 0, f.embedder.count())
}

func TestInsights(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/insights", ``)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[InsightsResponse](t, rec)
	assert.Equal(t, "summary", resp.Summary)
	assert.Equal(t, 5, resp.MemoCount)

	rec = f.do(t, http.MethodPost, "/api/insights", `{"limit":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[InsightsResponse](t, rec).MemoCount)

	rec = f.do(t, http.MethodPost, "/api/insights", `{"limit":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheStatsAndClear(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/api/search", `{"query":"coffee"}`)
	f.do(t, http.MethodPost, "/api/search", `{"query":"coffee"}`)

	stats := decode[cache.Stats](t, f.do(t, http.MethodGet, "/api/cache/stats", ""))
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)

	rec := f.do(t, http.MethodPost, "/api/cache/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[CacheClearResponse](t, rec).Cleared)

	stats = decode[cache.Stats](t, f.do(t, http.MethodGet, "/api/cache/stats", ""))
	assert.Equal(t, 0, stats.Entries)
}

func TestHealthMetricsAndCORS(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	f.do(t, http.MethodPost, "/api/search", `{"query":"coffee"}`)
	rec = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `memox_cache_requests_total{operation="search",result="miss"} 1`)
	assert.Contains(t, rec.Body.String(), `memox_search_path_total{path="scan"} 1`)

	rec = f.do(t, http.MethodOptions, "/api/search", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(t, http.MethodGet, "/api/search", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/lxw15337674/memox-sub000/assistant"
	"github.com/lxw15337674/memox-sub000/cache"
	"github.com/lxw15337674/memox-sub000/monitor"
	"github.com/lxw15337674/memox-sub000/search"
	"github.com/lxw15337674/memox-sub000/server/store"
)

// QueryEmbedder embeds free-text search queries.
type QueryEmbedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingSource returns the stored or regenerated embedding of a memo.
type EmbeddingSource interface {
	GetOrCreate(ctx context.Context, id string) ([]float32, error)
}

type Searcher interface {
	FindRelated(ctx context.Context, id string, q []float32, topK int, maxDistance float64) ([]store.Row, error)
	FindByQuery(ctx context.Context, q []float32, topK int, maxDistance float64) ([]store.Row, error)
}

type Assistant interface {
	Answer(ctx context.Context, query string, sources []search.Result) (assistant.Answer, error)
	Insights(ctx context.Context, memos []store.Memo) (assistant.Insights, error)
}

type RecentLister interface {
	ListRecent(ctx context.Context, limit int) ([]store.Memo, error)
}

// Limits bounds one kind of similarity query.
type Limits struct {
	TopK        int
	MaxDistance float64
}

// Config configures a new Server instance.
type Config struct {
	Embedder   QueryEmbedder
	Embeddings EmbeddingSource
	Searcher   Searcher
	Formatter  *search.Formatter
	Assistant  Assistant
	Memos      RecentLister
	Cache      *cache.Cache
	Metrics    *monitor.Metrics
	Logger     *slog.Logger

	Related Limits
	Search  Limits

	CacheTTL       time.Duration
	RequestTimeout time.Duration
	InsightsLimit  int
}

// Server is the HTTP surface of the retrieval service.
type Server struct {
	embedder   QueryEmbedder
	embeddings EmbeddingSource
	searcher   Searcher
	formatter  *search.Formatter
	assistant  Assistant
	memos      RecentLister
	cache      *cache.Cache
	metrics    *monitor.Metrics
	logger     *slog.Logger

	related Limits
	search  Limits

	opSearch   cache.Operation
	opRelated  cache.Operation
	opInsights cache.Operation

	requestTimeout time.Duration
	insightsLimit  int
}

const (
	defaultInsightsLimit = 20
	maxInsightsLimit     = 100
)

// New creates a new Server with the given configuration.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := cfg.Cache
	if c == nil {
		c = cache.New(cache.NewMemoryBackend(), cache.WithLogger(logger), cache.WithMetrics(cfg.Metrics))
	}
	formatter := cfg.Formatter
	if formatter == nil {
		formatter = search.NewFormatter(search.FormatterOptions{})
	}
	insightsLimit := cfg.InsightsLimit
	if insightsLimit <= 0 {
		insightsLimit = defaultInsightsLimit
	}

	return &Server{
		embedder:       cfg.Embedder,
		embeddings:     cfg.Embeddings,
		searcher:       cfg.Searcher,
		formatter:      formatter,
		assistant:      cfg.Assistant,
		memos:          cfg.Memos,
		cache:          c,
		metrics:        cfg.Metrics,
		logger:         logger.With("component", "server"),
		related:        cfg.Related,
		search:         cfg.Search,
		opSearch:       cache.OpSearch.WithTTL(cfg.CacheTTL),
		opRelated:      cache.OpRelated.WithTTL(cfg.CacheTTL),
		opInsights:     cache.OpInsights.WithTTL(cfg.CacheTTL),
		requestTimeout: cfg.RequestTimeout,
		insightsLimit:  insightsLimit,
	}
}

// Handler returns an http.Handler for the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	s.route(mux, "POST /api/search", s.handleSearch)
	s.route(mux, "POST /api/related", s.handleRelated)
	s.route(mux, "POST /api/insights", s.handleInsights)
	s.route(mux, "GET /api/cache/stats", s.handleCacheStats)
	s.route(mux, "POST /api/cache/clear", s.handleCacheClear)

	return corsMiddleware(mux)
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(pattern, h))
}

func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.ObserveRequest(route, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

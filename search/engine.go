// Package search finds memos near a query vector and shapes the results
// for the API.
package search

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/lxw15337674/memox-sub000/monitor"
	"github.com/lxw15337674/memox-sub000/server/store"
)

// VectorStore executes nearest-neighbor queries.
type VectorStore interface {
	ProbeIndex(ctx context.Context) (store.IndexInfo, error)
	QueryIndex(ctx context.Context, idx store.IndexInfo, query []float32, k int, excludeID string, maxDistance float64) ([]store.Row, error)
	ScanNearest(ctx context.Context, query []float32, k int, excludeID string, maxDistance float64) ([]store.Row, error)
}

const (
	PathIndex = "index"
	PathScan  = "scan"
)

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l.With("component", "search") }
}

func WithMetrics(m *monitor.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine prefers the accelerated index and falls back to a full scan when
// the index is missing, fails, or yields nothing usable.
type Engine struct {
	store   VectorStore
	logger  *slog.Logger
	metrics *monitor.Metrics
}

func NewEngine(s VectorStore, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		logger: slog.Default().With("component", "search"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FindRelated returns memos near q other than id.
func (e *Engine) FindRelated(ctx context.Context, id string, q []float32, topK int, maxDistance float64) ([]store.Row, error) {
	return e.find(ctx, id, q, topK, maxDistance)
}

// FindByQuery returns memos near a free-text query vector.
func (e *Engine) FindByQuery(ctx context.Context, q []float32, topK int, maxDistance float64) ([]store.Row, error) {
	return e.find(ctx, "", q, topK, maxDistance)
}

func (e *Engine) find(ctx context.Context, excludeID string, q []float32, topK int, maxDistance float64) ([]store.Row, error) {
	if topK <= 0 {
		return []store.Row{}, nil
	}

	if rows, ok := e.viaIndex(ctx, excludeID, q, topK, maxDistance); ok {
		e.metrics.SearchPath(PathIndex)
		return rows, nil
	}

	rows, err := e.store.ScanNearest(ctx, q, topK, excludeID, maxDistance)
	if err != nil {
		return nil, err
	}
	e.metrics.SearchPath(PathScan)
	return filter(rows, excludeID, topK, maxDistance), nil
}

// viaIndex reports false whenever the caller should fall back to scanning.
func (e *Engine) viaIndex(ctx context.Context, excludeID string, q []float32, topK int, maxDistance float64) ([]store.Row, bool) {
	idx, err := e.store.ProbeIndex(ctx)
	if err != nil {
		e.logger.Warn("vector index probe failed, scanning", "error", err)
		return nil, false
	}
	if !idx.Present {
		return nil, false
	}

	// One extra candidate covers the excluded memo.
	rows, err := e.store.QueryIndex(ctx, idx, q, topK+1, excludeID, maxDistance)
	if err != nil {
		e.logger.Warn("vector index query failed, scanning", "index", idx.Name, "error", err)
		return nil, false
	}

	rows = filter(rows, excludeID, topK, maxDistance)
	if len(rows) == 0 {
		e.logger.Debug("vector index returned no usable rows, scanning", "index", idx.Name)
		return nil, false
	}
	return rows, true
}

// filter applies self-exclusion and the strict distance threshold, orders by
// ascending distance and caps the result at topK.
func filter(rows []store.Row, excludeID string, topK int, maxDistance float64) []store.Row {
	out := make([]store.Row, 0, len(rows))
	for _, r := range rows {
		if excludeID != "" && r.ID == excludeID {
			continue
		}
		if math.IsNaN(r.Distance) || !(r.Distance < maxDistance) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

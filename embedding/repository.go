package embedding

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lxw15337674/memox-sub000/core"
	"github.com/lxw15337674/memox-sub000/monitor"
	"github.com/lxw15337674/memox-sub000/server/store"
	"github.com/lxw15337674/memox-sub000/vector"
)

// MemoStore is the slice of the memo store the repository needs.
type MemoStore interface {
	GetMemo(ctx context.Context, id string) (store.Memo, error)
	UpdateEmbedding(ctx context.Context, id string, vec []float32) error
}

type RepositoryOption func(*Repository)

func WithLogger(l *slog.Logger) RepositoryOption {
	return func(r *Repository) { r.logger = l.With("component", "embedding-repo") }
}

func WithMetrics(m *monitor.Metrics) RepositoryOption {
	return func(r *Repository) { r.metrics = m }
}

// WithPersistTimeout bounds each background write.
func WithPersistTimeout(d time.Duration) RepositoryOption {
	return func(r *Repository) { r.persistTimeout = d }
}

// Repository returns a usable embedding for a memo, regenerating it when
// the stored one is absent or invalid.
type Repository struct {
	store MemoStore
	gen   TextEmbedder
	dim   int

	logger         *slog.Logger
	metrics        *monitor.Metrics
	persistTimeout time.Duration

	inflight sync.WaitGroup
}

func NewRepository(s MemoStore, gen TextEmbedder, dim int, opts ...RepositoryOption) *Repository {
	r := &Repository{
		store:          s,
		gen:            gen,
		dim:            dim,
		logger:         slog.Default().With("component", "embedding-repo"),
		persistTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the memo's embedding. A freshly generated vector is
// returned immediately; writing it back happens in the background and its
// failure never reaches the caller.
func (r *Repository) GetOrCreate(ctx context.Context, id string) ([]float32, error) {
	m, err := r.store.GetMemo(ctx, id)
	if err != nil {
		return nil, core.NewOpError("getOrCreate", id, err)
	}

	if vec, ok := r.stored(m); ok {
		return vec, nil
	}

	if strings.TrimSpace(m.Content) == "" {
		return nil, core.NewOpError("getOrCreate", id, core.ErrEmptyContent)
	}

	vec, err := r.gen.Generate(ctx, m.Content)
	if err != nil {
		return nil, err
	}

	r.persist(ctx, id, vec)
	return vec, nil
}

func (r *Repository) stored(m store.Memo) ([]float32, bool) {
	if len(m.Embedding) == 0 {
		return nil, false
	}
	vec, ok, err := vector.DecodeDim(m.Embedding, r.dim)
	if err != nil {
		r.logger.Warn("stored embedding undecodable, regenerating", "memo", m.ID, "error", err)
		return nil, false
	}
	if !ok {
		r.logger.Warn("stored embedding has wrong dimensions, regenerating",
			"memo", m.ID, "expected", r.dim, "got", len(vec))
		return nil, false
	}
	return vec, true
}

func (r *Repository) persist(ctx context.Context, id string, vec []float32) {
	ctx = context.WithoutCancel(ctx)
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		ctx, cancel := context.WithTimeout(ctx, r.persistTimeout)
		defer cancel()

		if err := r.store.UpdateEmbedding(ctx, id, vec); err != nil {
			r.metrics.PersistFailed()
			r.logger.Error("failed to persist embedding", "memo", id, "error", err)
			return
		}
		r.logger.Debug("persisted embedding", "memo", id, "dimensions", len(vec))
	}()
}

// Wait blocks until background writes started so far have finished.
func (r *Repository) Wait() {
	r.inflight.Wait()
}

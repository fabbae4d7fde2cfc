package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lxw15337674/memox-sub000/core"
	"github.com/lxw15337674/memox-sub000/server/store"
	"github.com/lxw15337674/memox-sub000/vector"
)

type memStore struct {
	mu        sync.Mutex
	memos     map[string]store.Memo
	updates   map[string][]float32
	updateErr error
	updateCtx context.Context
}

func newMemStore(memos ...store.Memo) *memStore {
	s := &memStore{memos: map[string]store.Memo{}, updates: map[string][]float32{}}
	for _, m := range memos {
		s.memos[m.ID] = m
	}
	return s
}

func (s *memStore) GetMemo(_ context.Context, id string) (store.Memo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memos[id]
	if !ok || m.DeletedAt != nil {
		return store.Memo{}, store.ErrNotFound
	}
	return m, nil
}

func (s *memStore) UpdateEmbedding(ctx context.Context, id string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCtx = ctx
	if s.updateErr != nil {
		return s.updateErr
	}
	m, ok := s.memos[id]
	if !ok {
		return store.ErrNotFound
	}
	b, err := vector.Encode(vec)
	if err != nil {
		return err
	}
	m.Embedding = b
	s.memos[id] = m
	s.updates[id] = vec
	return nil
}

func (s *memStore) ListMemoIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, m := range s.memos {
		if m.DeletedAt == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memStore) updated(id string) ([]float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.updates[id]
	return v, ok
}

func encoded(t *testing.T, vec []float32) []byte {
	t.Helper()
	b, err := vector.Encode(vec)
	require.NoError(t, err)
	return b
}

func TestRepository_FastPathSkipsGeneration(t *testing.T) {
	stored := []float32{0.1, 0.2, 0.3}
	s := newMemStore(store.Memo{ID: "m1", Content: "hello", Embedding: encoded(t, stored)})
	gen := &countingEmbedder{vec: []float32{9, 9, 9}}
	r := NewRepository(s, gen, 3)

	vec, err := r.GetOrCreate(context.Background(), "m1")
	require.NoError(t, err)
	r.Wait()

	assert.Equal(t, stored, vec)
	assert.Equal(t, 0, gen.count())
	_, wrote := s.updated("m1")
	assert.False(t, wrote)
}

func TestRepository_RepairsWrongLength(t *testing.T) {
	s := newMemStore(store.Memo{ID: "m1", Content: "hello", Embedding: encoded(t, []float32{1, 2})})
	fresh := []float32{0.5, 0.5, 0.5}
	gen := &countingEmbedder{vec: fresh}
	r := NewRepository(s, gen, 3)

	vec, err := r.GetOrCreate(context.Background(), "m1")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, 1, gen.count())

	r.Wait()
	persisted, ok := s.updated("m1")
	require.True(t, ok)
	assert.Equal(t, fresh, persisted)

	// The repaired embedding is now served without regenerating.
	_, err = r.GetOrCreate(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, gen.count())
}

func TestRepository_RegeneratesAbsentAndUndecodable(t *testing.T) {
	tests := []struct {
		name      string
		embedding []byte
	}{
		{"absent", nil},
		{"truncated", []byte{1, 2, 3, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newMemStore(store.Memo{ID: "m1", Content: "hello", Embedding: tt.embedding})
			gen := &countingEmbedder{vec: []float32{1, 0}}
			r := NewRepository(s, gen, 2)

			vec, err := r.GetOrCreate(context.Background(), "m1")
			require.NoError(t, err)
			assert.Equal(t, []float32{1, 0}, vec)
			assert.Equal(t, 1, gen.count())
			r.Wait()
		})
	}
}

func TestRepository_EmptyContentNeverGenerates(t *testing.T) {
	s := newMemStore(store.Memo{ID: "m1", Content: "   "})
	gen := &countingEmbedder{vec: []float32{1}}
	r := NewRepository(s, gen, 1)

	_, err := r.GetOrCreate(context.Background(), "m1")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrEmptyContent)
	assert.Equal(t, core.CodeEmptyContent, core.CodeOf(err))
	assert.Equal(t, 0, gen.count())
}

func TestRepository_NotFound(t *testing.T) {
	deleted := time.Now()
	s := newMemStore(store.Memo{ID: "gone", Content: "x", DeletedAt: &deleted})
	r := NewRepository(s, &countingEmbedder{}, 1)

	for _, id := range []string{"missing", "gone"} {
		_, err := r.GetOrCreate(context.Background(), id)
		assert.ErrorIs(t, err, core.ErrNotFound)
		assert.Equal(t, core.CodeNotFound, core.CodeOf(err))
	}
}

func TestRepository_GenerationFailurePropagates(t *testing.T) {
	s := newMemStore(store.Memo{ID: "m1", Content: "hello"})
	gen := &countingEmbedder{err: core.NewUpstreamError(503, "", "embedding request failed", nil)}
	r := NewRepository(s, gen, 2)

	_, err := r.GetOrCreate(context.Background(), "m1")
	assert.ErrorIs(t, err, core.ErrUpstreamAPI)
	r.Wait()
	_, wrote := s.updated("m1")
	assert.False(t, wrote)
}

func TestRepository_PersistFailureIsSwallowed(t *testing.T) {
	s := newMemStore(store.Memo{ID: "m1", Content: "hello"})
	s.updateErr = errors.New("disk full")
	r := NewRepository(s, &countingEmbedder{vec: []float32{1, 1}}, 2)

	vec, err := r.GetOrCreate(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, vec)
	r.Wait()
}

func TestRepository_PersistOutlivesRequest(t *testing.T) {
	s := newMemStore(store.Memo{ID: "m1", Content: "hello"})
	r := NewRepository(s, &countingEmbedder{vec: []float32{1, 1}}, 2, WithPersistTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	_, err := r.GetOrCreate(ctx, "m1")
	require.NoError(t, err)
	cancel()
	r.Wait()

	_, ok := s.updated("m1")
	assert.True(t, ok)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, hasDeadline := s.updateCtx.Deadline()
	assert.True(t, hasDeadline)
}

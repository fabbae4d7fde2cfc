// Package store persists memos and their embeddings and executes
// nearest-neighbor queries against them.
package store

import (
	"context"
	"time"

	"github.com/lxw15337674/memox-sub000/core"
)

// ErrNotFound is returned when a memo does not exist or is soft-deleted.
var ErrNotFound = core.ErrNotFound

// Memo is a note row. Embedding holds the binary encoding and may be nil.
type Memo struct {
	ID        string
	Content   string
	CreatedAt *time.Time
	UpdatedAt *time.Time
	DeletedAt *time.Time
	Embedding []byte
}

// Row is a raw nearest-neighbor result. Distance is cosine distance; lower
// is more similar.
type Row struct {
	ID        string
	Content   string
	CreatedAt *time.Time
	UpdatedAt *time.Time
	Distance  float64
}

// IndexInfo reports whether an accelerated nearest-neighbor index exists
// on the embedding column.
type IndexInfo struct {
	Present bool
	Name    string
}

// Store defines memo persistence and vector queries.
type Store interface {
	GetMemo(ctx context.Context, id string) (Memo, error)
	CreateMemo(ctx context.Context, content string) (Memo, error)
	UpdateEmbedding(ctx context.Context, id string, vec []float32) error
	SoftDelete(ctx context.Context, id string) error
	ListMemoIDs(ctx context.Context) ([]string, error)
	ListRecent(ctx context.Context, limit int) ([]Memo, error)

	// ProbeIndex is a metadata lookup, never a scan.
	ProbeIndex(ctx context.Context) (IndexInfo, error)
	// QueryIndex asks the index for the k nearest candidates.
	QueryIndex(ctx context.Context, idx IndexInfo, query []float32, k int, excludeID string, maxDistance float64) ([]Row, error)
	// ScanNearest computes distance against every live embedding.
	ScanNearest(ctx context.Context, query []float32, k int, excludeID string, maxDistance float64) ([]Row, error)

	Close() error
}

package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/lxw15337674/memox-sub000/server/store"
	"github.com/lxw15337674/memox-sub000/vector"
)

// RepairStore lists the memos a repair pass walks.
type RepairStore interface {
	MemoStore
	ListMemoIDs(ctx context.Context) ([]string, error)
}

type RepairReport struct {
	Checked  int
	Repaired int
	Skipped  int
	Failed   int
}

// Repairer regenerates embeddings that are absent or have the wrong
// dimensions, writing them back synchronously.
type Repairer struct {
	store   RepairStore
	gen     TextEmbedder
	dim     int
	workers int
	logger  *slog.Logger
}

func NewRepairer(s RepairStore, gen TextEmbedder, dim, workers int) *Repairer {
	if workers <= 0 {
		workers = 4
	}
	return &Repairer{
		store:   s,
		gen:     gen,
		dim:     dim,
		workers: workers,
		logger:  slog.Default().With("component", "embedding-repair"),
	}
}

// Run checks every live memo. Per-memo failures are counted and logged; the
// returned error is set only when the walk itself could not proceed.
func (r *Repairer) Run(ctx context.Context) (RepairReport, error) {
	ids, err := r.store.ListMemoIDs(ctx)
	if err != nil {
		return RepairReport{}, fmt.Errorf("list memos: %w", err)
	}

	var repaired, skipped, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, id := range ids {
		g.Go(func() error {
			switch err := r.repairOne(gctx, id); {
			case err == nil:
			case errors.Is(err, errUpToDate):
				return nil
			case errors.Is(err, errSkipped):
				skipped.Add(1)
				return nil
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				failed.Add(1)
				r.logger.Warn("repair failed", "memo", id, "error", err)
				return nil
			}
			repaired.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RepairReport{}, err
	}

	report := RepairReport{
		Checked:  len(ids),
		Repaired: int(repaired.Load()),
		Skipped:  int(skipped.Load()),
		Failed:   int(failed.Load()),
	}
	r.logger.Info("repair finished", "checked", report.Checked, "repaired", report.Repaired,
		"skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

var (
	errUpToDate = errors.New("embedding up to date")
	errSkipped  = errors.New("memo has no content")
)

func (r *Repairer) repairOne(ctx context.Context, id string) error {
	m, err := r.store.GetMemo(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return errSkipped
	}
	if err != nil {
		return err
	}
	if len(m.Embedding) > 0 {
		if _, ok, err := vector.DecodeDim(m.Embedding, r.dim); err == nil && ok {
			return errUpToDate
		}
	}
	if strings.TrimSpace(m.Content) == "" {
		return errSkipped
	}

	vec, err := r.gen.Generate(ctx, m.Content)
	if err != nil {
		return err
	}
	return r.store.UpdateEmbedding(ctx, id, vec)
}

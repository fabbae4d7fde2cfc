package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	sqlite "modernc.org/sqlite"

	"github.com/lxw15337674/memox-sub000/server/store/migrations"
	"github.com/lxw15337674/memox-sub000/vector"
)

// DistanceFunc is the SQL function computing cosine distance between two
// embedding BLOBs. libSQL ships it natively; on plain SQLite it is
// registered with the driver.
const DistanceFunc = "vector_distance_cos"

var (
	registerOnce sync.Once
	registerErr  error
)

// registerFunctions must run before connections are opened; functions are
// attached per connection by the driver.
func registerFunctions() error {
	registerOnce.Do(func() {
		registerErr = sqlite.RegisterDeterministicScalarFunction(DistanceFunc, 2, vectorDistanceCos)
	})
	return registerErr
}

// vectorDistanceCos returns NULL for missing, undecodable, mismatched or
// zero-magnitude embeddings so such rows drop out of threshold filters.
func vectorDistanceCos(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%s: expected 2 arguments, got %d", DistanceFunc, len(args))
	}
	a, ok := args[0].([]byte)
	if !ok || len(a) == 0 {
		return nil, nil
	}
	b, ok := args[1].([]byte)
	if !ok || len(b) == 0 {
		return nil, nil
	}
	va, err := vector.Decode(a)
	if err != nil {
		return nil, nil
	}
	vb, err := vector.Decode(b)
	if err != nil {
		return nil, nil
	}
	d, err := vector.CosineDistance(va, vb)
	if err != nil {
		return nil, nil
	}
	return d, nil
}

// SQLiteStore implements Store using SQLite. Nearest-neighbor index
// queries use libSQL's vector_top_k and fail on plain SQLite.
type SQLiteStore struct {
	db         *sqlx.DB
	dimensions int
}

// OpenSQLite opens (creating if needed) a SQLite database at dsn.
func OpenSQLite(dsn string, dimensions int) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "data/memox.db"
	}

	if err := registerFunctions(); err != nil {
		return nil, fmt.Errorf("register sqlite functions: %w", err)
	}

	memory := dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
	if !memory {
		dir := filepath.Dir(dsn)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		}
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := runSQLiteMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, dimensions: dimensions}, nil
}

func runSQLiteMigrations(db *sqlx.DB) error {
	data, err := migrations.SQLite.ReadFile("sqlite/001_init.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := db.Exec(string(data)); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

type sqliteMemoRow struct {
	ID        string `db:"id"`
	Content   string `db:"content"`
	CreatedAt *int64 `db:"created_at"`
	UpdatedAt *int64 `db:"updated_at"`
	DeletedAt *int64 `db:"deleted_at"`
	Embedding []byte `db:"embedding"`
}

func (r sqliteMemoRow) memo() Memo {
	return Memo{
		ID:        r.ID,
		Content:   r.Content,
		CreatedAt: msToTime(r.CreatedAt),
		UpdatedAt: msToTime(r.UpdatedAt),
		DeletedAt: msToTime(r.DeletedAt),
		Embedding: r.Embedding,
	}
}

type sqliteNeighborRow struct {
	ID        string  `db:"id"`
	Content   string  `db:"content"`
	CreatedAt *int64  `db:"created_at"`
	UpdatedAt *int64  `db:"updated_at"`
	Distance  float64 `db:"distance"`
}

func (r sqliteNeighborRow) row() Row {
	return Row{
		ID:        r.ID,
		Content:   r.Content,
		CreatedAt: msToTime(r.CreatedAt),
		UpdatedAt: msToTime(r.UpdatedAt),
		Distance:  r.Distance,
	}
}

func msToTime(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms)
	return &t
}

func (s *SQLiteStore) GetMemo(ctx context.Context, id string) (Memo, error) {
	var r sqliteMemoRow
	err := s.db.GetContext(ctx, &r, `
		SELECT id, content, created_at, updated_at, deleted_at, embedding
		FROM memos WHERE id = ? AND deleted_at IS NULL`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Memo{}, ErrNotFound
	}
	if err != nil {
		return Memo{}, fmt.Errorf("query memo: %w", err)
	}
	return r.memo(), nil
}

func (s *SQLiteStore) CreateMemo(ctx context.Context, content string) (Memo, error) {
	now := time.Now().UnixMilli()
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memos (id, content, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, content, now, now)
	if err != nil {
		return Memo{}, fmt.Errorf("insert memo: %w", err)
	}
	return Memo{ID: id, Content: content, CreatedAt: msToTime(&now), UpdatedAt: msToTime(&now)}, nil
}

func (s *SQLiteStore) UpdateEmbedding(ctx context.Context, id string, vec []float32) error {
	blob, err := vector.Encode(vec)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE memos SET embedding = ? WHERE id = ?`, blob, id)
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SoftDelete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memos SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("soft delete memo: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListMemoIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM memos WHERE deleted_at IS NULL ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("list memo ids: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]Memo, error) {
	var rows []sqliteMemoRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, content, created_at, updated_at, deleted_at, NULL AS embedding
		FROM memos WHERE deleted_at IS NULL
		ORDER BY created_at DESC, id LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("list recent memos: %w", err)
	}
	memos := make([]Memo, len(rows))
	for i, r := range rows {
		memos[i] = r.memo()
	}
	return memos, nil
}

func (s *SQLiteStore) ProbeIndex(ctx context.Context) (IndexInfo, error) {
	var name string
	err := s.db.GetContext(ctx, &name, `
		SELECT name FROM sqlite_master
		WHERE type = 'index' AND tbl_name = 'memos' AND sql LIKE '%libsql_vector_idx%'
		LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return IndexInfo{}, nil
	}
	if err != nil {
		return IndexInfo{}, fmt.Errorf("probe vector index: %w", err)
	}
	return IndexInfo{Present: true, Name: name}, nil
}

func (s *SQLiteStore) QueryIndex(ctx context.Context, idx IndexInfo, query []float32, k int, excludeID string, maxDistance float64) ([]Row, error) {
	blob, err := vector.Encode(query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	var rows []sqliteNeighborRow
	err = s.db.SelectContext(ctx, &rows, `
		SELECT m.id, m.content, m.created_at, m.updated_at,
		       `+DistanceFunc+`(m.embedding, vector32(?)) AS distance
		FROM vector_top_k(?, vector32(?), ?) AS v
		JOIN memos m ON m.rowid = v.id
		WHERE m.deleted_at IS NULL AND m.id <> ?
		  AND `+DistanceFunc+`(m.embedding, vector32(?)) < ?
		ORDER BY distance ASC`,
		blob, idx.Name, blob, k, excludeID, blob, maxDistance)
	if err != nil {
		return nil, fmt.Errorf("vector index query: %w", err)
	}
	return neighborRows(rows), nil
}

func (s *SQLiteStore) ScanNearest(ctx context.Context, query []float32, k int, excludeID string, maxDistance float64) ([]Row, error) {
	blob, err := vector.Encode(query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	var rows []sqliteNeighborRow
	err = s.db.SelectContext(ctx, &rows, `
		SELECT id, content, created_at, updated_at, distance FROM (
			SELECT id, content, created_at, updated_at,
			       `+DistanceFunc+`(embedding, ?) AS distance
			FROM memos
			WHERE deleted_at IS NULL AND embedding IS NOT NULL AND id <> ?
		)
		WHERE distance < ?
		ORDER BY distance ASC, id ASC
		LIMIT ?`,
		blob, excludeID, maxDistance, k)
	if err != nil {
		return nil, fmt.Errorf("vector scan query: %w", err)
	}
	return neighborRows(rows), nil
}

func neighborRows(rows []sqliteNeighborRow) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r.row()
	}
	return out
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)

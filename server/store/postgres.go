package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/lxw15337674/memox-sub000/server/store/migrations"
	"github.com/lxw15337674/memox-sub000/vector"
)

// PostgresStore implements Store using PostgreSQL with the pgvector
// extension. Embeddings live in a vector(D) column.
type PostgresStore struct {
	db         *sqlx.DB
	dimensions int
}

// OpenPostgres connects to dsn, verifies the connection and applies migrations.
func OpenPostgres(dsn string, dimensions int) (*PostgresStore, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := runPostgresMigrations(db, dimensions); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return NewPostgresStore(db, dimensions), nil
}

// NewPostgresStore wraps an already migrated database.
func NewPostgresStore(db *sqlx.DB, dimensions int) *PostgresStore {
	return &PostgresStore{db: db, dimensions: dimensions}
}

func runPostgresMigrations(db *sqlx.DB, dimensions int) error {
	data, err := migrations.Postgres.ReadFile("postgres/001_init.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	ddl := strings.ReplaceAll(string(data), "{{dimensions}}", strconv.Itoa(dimensions))
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

type pgMemoRow struct {
	ID        string         `db:"id"`
	Content   string         `db:"content"`
	CreatedAt *time.Time     `db:"created_at"`
	UpdatedAt *time.Time     `db:"updated_at"`
	DeletedAt *time.Time     `db:"deleted_at"`
	Embedding sql.NullString `db:"embedding"`
}

type pgNeighborRow struct {
	ID        string     `db:"id"`
	Content   string     `db:"content"`
	CreatedAt *time.Time `db:"created_at"`
	UpdatedAt *time.Time `db:"updated_at"`
	Distance  float64    `db:"distance"`
}

// embeddingBytes converts pgvector's text form into the binary encoding the
// rest of the service works with. Unparseable values are treated as absent.
func embeddingBytes(ns sql.NullString) []byte {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var v pgvector.Vector
	if err := v.Scan(ns.String); err != nil {
		return nil
	}
	b, err := vector.Encode(v.Slice())
	if err != nil {
		return nil
	}
	return b
}

func (r pgMemoRow) memo() Memo {
	return Memo{
		ID:        r.ID,
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		DeletedAt: r.DeletedAt,
		Embedding: embeddingBytes(r.Embedding),
	}
}

func (s *PostgresStore) GetMemo(ctx context.Context, id string) (Memo, error) {
	var r pgMemoRow
	err := s.db.GetContext(ctx, &r, `
		SELECT id, content, created_at, updated_at, deleted_at, embedding::text AS embedding
		FROM memos WHERE id = $1 AND deleted_at IS NULL`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Memo{}, ErrNotFound
	}
	if err != nil {
		return Memo{}, fmt.Errorf("query memo: %w", err)
	}
	return r.memo(), nil
}

func (s *PostgresStore) CreateMemo(ctx context.Context, content string) (Memo, error) {
	now := time.Now().UTC()
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memos (id, content, created_at, updated_at) VALUES ($1, $2, $3, $3)`,
		id, content, now)
	if err != nil {
		return Memo{}, fmt.Errorf("insert memo: %w", err)
	}
	return Memo{ID: id, Content: content, CreatedAt: &now, UpdatedAt: &now}, nil
}

func (s *PostgresStore) UpdateEmbedding(ctx context.Context, id string, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("update embedding: empty vector")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE memos SET embedding = $1::vector WHERE id = $2`,
		pgvector.NewVector(vec), id)
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SoftDelete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memos SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft delete memo: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListMemoIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM memos WHERE deleted_at IS NULL ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("list memo ids: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Memo, error) {
	var rows []pgMemoRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, content, created_at, updated_at, deleted_at, NULL::text AS embedding
		FROM memos WHERE deleted_at IS NULL
		ORDER BY created_at DESC, id LIMIT $1`, limit); err != nil {
		return nil, fmt.Errorf("list recent memos: %w", err)
	}
	memos := make([]Memo, len(rows))
	for i, r := range rows {
		memos[i] = r.memo()
	}
	return memos, nil
}

func (s *PostgresStore) ProbeIndex(ctx context.Context) (IndexInfo, error) {
	var name string
	err := s.db.GetContext(ctx, &name, `
		SELECT indexname FROM pg_indexes
		WHERE tablename = 'memos'
		  AND indexdef ILIKE '%embedding%'
		  AND (indexdef ILIKE '%using hnsw%' OR indexdef ILIKE '%using ivfflat%')
		LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return IndexInfo{}, nil
	}
	if err != nil {
		return IndexInfo{}, fmt.Errorf("probe vector index: %w", err)
	}
	return IndexInfo{Present: true, Name: name}, nil
}

// QueryIndex lets the planner use the ANN index by ordering on the
// distance operator with a LIMIT before any other filtering.
func (s *PostgresStore) QueryIndex(ctx context.Context, _ IndexInfo, query []float32, k int, excludeID string, maxDistance float64) ([]Row, error) {
	var rows []pgNeighborRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, content, created_at, updated_at, distance FROM (
			SELECT id, content, created_at, updated_at, deleted_at,
			       embedding <=> $1::vector AS distance
			FROM memos
			WHERE embedding IS NOT NULL
			ORDER BY embedding <=> $1::vector
			LIMIT $2
		) candidates
		WHERE deleted_at IS NULL AND id <> $3 AND distance < $4
		ORDER BY distance ASC`,
		pgvector.NewVector(query), k, excludeID, maxDistance)
	if err != nil {
		return nil, fmt.Errorf("vector index query: %w", err)
	}
	return pgRows(rows), nil
}

func (s *PostgresStore) ScanNearest(ctx context.Context, query []float32, k int, excludeID string, maxDistance float64) ([]Row, error) {
	var rows []pgNeighborRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, content, created_at, updated_at,
		       embedding <=> $1::vector AS distance
		FROM memos
		WHERE deleted_at IS NULL AND embedding IS NOT NULL AND id <> $2
		  AND embedding <=> $1::vector < $3
		ORDER BY distance ASC, id ASC
		LIMIT $4`,
		pgvector.NewVector(query), excludeID, maxDistance, k)
	if err != nil {
		return nil, fmt.Errorf("vector scan query: %w", err)
	}
	return pgRows(rows), nil
}

func pgRows(rows []pgNeighborRow) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = Row{
			ID:        r.ID,
			Content:   r.Content,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
			Distance:  r.Distance,
		}
	}
	return out
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

var _ Store = (*PostgresStore)(nil)

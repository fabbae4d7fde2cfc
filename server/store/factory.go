package store

import (
	"fmt"
	"strings"
)

// Open creates a store based on the DSN.
// - Empty DSN: SQLite at data/memox.db
// - postgres:// or postgresql://: PostgreSQL with pgvector
// - Anything else: SQLite at the specified path
func Open(dsn string, dimensions int) (Store, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("store: dimensions must be positive, got %d", dimensions)
	}

	if IsPostgresDSN(dsn) {
		s, err := OpenPostgres(dsn, dimensions)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return s, nil
	}

	s, err := OpenSQLite(dsn, dimensions)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// IsPostgresDSN reports whether dsn selects the PostgreSQL store.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

package vocab

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GoCodeAlone/tally/internal/database"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS vocabulary (
	kind     TEXT NOT NULL,
	name     TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (kind, name)
);
`

// PostgresStore keeps vocabularies in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps a pool and ensures the table exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("create vocabulary schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// List returns the values of kind in insertion order.
func (s *PostgresStore) List(ctx context.Context, kind Kind) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name FROM vocabulary WHERE kind = $1 ORDER BY position`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list %s vocabulary: %w", kind, err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Add appends name unless an equivalent value exists. A unique violation
// from a concurrent insert is reported as a duplicate.
func (s *PostgresStore) Add(ctx context.Context, kind Kind, name string) (bool, error) {
	name, err := normalize(kind, name)
	if err != nil {
		return false, err
	}
	existing, err := s.List(ctx, kind)
	if err != nil {
		return false, err
	}
	if containsFolded(existing, name) {
		return false, nil
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO vocabulary (kind, name, position)
SELECT $1, $2, COALESCE(MAX(position), 0) + 1 FROM vocabulary WHERE kind = $1`,
		string(kind), name)
	if database.IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("add %s %q: %w", kind, name, err)
	}
	return true, nil
}

// Remove drops name from kind.
func (s *PostgresStore) Remove(ctx context.Context, kind Kind, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM vocabulary WHERE kind = $1 AND name = $2`, string(kind), name)
	if err != nil {
		return false, fmt.Errorf("remove %s %q: %w", kind, name, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Seed inserts names when kind has no values yet.
func (s *PostgresStore) Seed(ctx context.Context, kind Kind, names []string) (int, error) {
	existing, err := s.List(ctx, kind)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	added := 0
	for _, n := range names {
		ok, err := s.Add(ctx, kind, n)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	return added, nil
}

package vocab

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/GoCodeAlone/tally/internal/database"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS vocabulary (
	kind     TEXT NOT NULL,
	name     TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (kind, name)
);
`

// SQLiteStore keeps vocabularies in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore wraps an open database and ensures the table exists.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("create vocabulary schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// List returns the values of kind in insertion order.
func (s *SQLiteStore) List(ctx context.Context, kind Kind) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM vocabulary WHERE kind = ? ORDER BY position ASC`, string(kind))
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

// Add appends name unless an equivalent value exists.
func (s *SQLiteStore) Add(ctx context.Context, kind Kind, name string) (bool, error) {
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
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vocabulary (kind, name, position)
		SELECT ?, ?, COALESCE(MAX(position), 0) + 1 FROM vocabulary WHERE kind = ?`,
		string(kind), name, string(kind))
	if database.IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("add %s %q: %w", kind, name, err)
	}
	return true, nil
}

// Remove drops name from kind.
func (s *SQLiteStore) Remove(ctx context.Context, kind Kind, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM vocabulary WHERE kind = ? AND name = ?`, string(kind), name)
	if err != nil {
		return false, fmt.Errorf("remove %s %q: %w", kind, name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Seed inserts names when kind has no values yet.
func (s *SQLiteStore) Seed(ctx context.Context, kind Kind, names []string) (int, error) {
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

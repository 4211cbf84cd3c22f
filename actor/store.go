package actor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/GoCodeAlone/tally/internal/database"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	username      TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL,
	last_active   DATETIME,
	created_at    DATETIME NOT NULL
);
`

// SQLiteStore keeps users in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore wraps an open database and ensures the table exists.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("create users schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, u *User) (bool, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, role, created_at) VALUES (?, ?, ?, ?)`,
		u.Username, u.PasswordHash, string(u.Role), u.CreatedAt)
	if database.IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert user %q: %w", u.Username, err)
	}
	return true, nil
}

func (s *SQLiteStore) Get(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT username, password_hash, role, last_active, created_at FROM users WHERE username = ?`, username)
	u := &User{}
	var role string
	var last sql.NullTime
	err := row.Scan(&u.Username, &u.PasswordHash, &role, &last, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %q: %w", username, err)
	}
	u.Role = Role(role)
	if last.Valid {
		t := last.Time
		u.LastActive = &t
	}
	return u, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, password_hash, role, last_active, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		u := &User{}
		var role string
		var last sql.NullTime
		if err := rows.Scan(&u.Username, &u.PasswordHash, &role, &last, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Role = Role(role)
		if last.Valid {
			t := last.Time
			u.LastActive = &t
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("delete user %q: %w", username, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Touch(ctx context.Context, username string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET last_active = ? WHERE username = ?`, at.UTC(), username)
	if err != nil {
		return fmt.Errorf("touch user %q: %w", username, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ActiveSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username FROM users WHERE last_active >= ? ORDER BY username`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("active users: %w", err)
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

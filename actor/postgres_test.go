package actor

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/GoCodeAlone/tally/internal/database"
)

func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TALLY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TALLY_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := database.ConnectPostgres(ctx, dsn, 0)
	if err != nil {
		t.Fatalf("ConnectPostgres: %v", err)
	}
	t.Cleanup(pool.Close)
	store, err := NewPostgresStore(ctx, pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE users`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return store
}

func TestPostgresStore_Users(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	dir := NewDirectory(store, HashArgon2id)

	if created, err := dir.Register(ctx, "alice", "pw", RoleEmployee); err != nil || !created {
		t.Fatalf("Register = %v, %v", created, err)
	}
	if created, err := dir.Register(ctx, "alice", "pw", RoleEmployee); err != nil || created {
		t.Errorf("duplicate Register = %v, %v; want false, nil", created, err)
	}
	if _, err := dir.Authenticate(ctx, "alice", "pw"); err != nil {
		t.Errorf("Authenticate: %v", err)
	}

	if err := dir.Touch(ctx, "alice"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	names, err := dir.Online(ctx, time.Minute, "")
	if err != nil {
		t.Fatalf("Online: %v", err)
	}
	if len(names) != 1 || names[0] != "alice" {
		t.Errorf("Online = %v", names)
	}

	boss := Actor{ID: "boss", Role: RoleManager}
	if err := dir.Remove(ctx, boss, "alice"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := dir.Get(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Remove = %v, want ErrNotFound", err)
	}
}

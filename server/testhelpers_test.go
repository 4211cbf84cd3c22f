package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/GoCodeAlone/tally/actor"
	"github.com/GoCodeAlone/tally/comms"
	"github.com/GoCodeAlone/tally/config"
	"github.com/GoCodeAlone/tally/internal/database"
	"github.com/GoCodeAlone/tally/lifecycle"
	"github.com/GoCodeAlone/tally/task"
	"github.com/GoCodeAlone/tally/vocab"
)

const testSecret = "test-secret-key-1234567890"

type testEnv struct {
	srv     *Server
	handler http.Handler
	dir     *actor.Directory
	repo    *task.SQLiteStore
}

// newTestEnv wires a Server over a temp SQLite database with a manager
// "admin" (password "secret") and an employee "alice" (password "pw").
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	f, err := os.CreateTemp("", "tally-server-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	db, err := database.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	repo, err := task.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("task.NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	vs, err := vocab.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("vocab.NewSQLiteStore: %v", err)
	}
	us, err := actor.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("actor.NewSQLiteStore: %v", err)
	}

	ctx := context.Background()
	voc := vocab.NewService(vs, "", "")
	if err := voc.Seed(ctx, []string{"Engineering"}, []string{"To Do", "Done"}); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	dir := actor.NewDirectory(us, actor.HashBcrypt)
	if _, err := dir.Register(ctx, "admin", "secret", actor.RoleManager); err != nil {
		t.Fatalf("Register admin: %v", err)
	}
	if _, err := dir.Register(ctx, "alice", "pw", actor.RoleEmployee); err != nil {
		t.Fatalf("Register alice: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := comms.NewInMemoryBus(0)
	engine := lifecycle.NewEngine(
		lifecycle.NewMaterializer(repo, voc, bus, logger),
		lifecycle.NewArchiver(repo, voc, bus, logger),
		lifecycle.DefaultArchiveAfterDays, time.UTC, logger)

	cfg := *config.DefaultConfig()
	cfg.Auth.JWTSecret = testSecret
	srv := New(cfg, "test", logger)
	srv.SetTaskService(lifecycle.NewService(repo, voc, bus, logger))
	srv.SetLifecycle(engine)
	srv.SetVocabulary(voc)
	srv.SetDirectory(dir)
	srv.SetBus(bus)

	return &testEnv{srv: srv, handler: srv.Handler(), dir: dir, repo: repo}
}

// do sends a request with an optional JSON body and bearer token.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

// login returns a token for username, failing the test on anything but 200.
func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/auth/login", "", credentials{Username: username, Password: password})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status %d: %s", username, w.Code, w.Body.String())
	}
	var resp loginResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.Token
}

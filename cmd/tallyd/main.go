// Command tallyd is the tally server daemon.
// It opens the configured store, brings the lifecycle up to date and serves
// the REST API until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/GoCodeAlone/tally/actor"
	"github.com/GoCodeAlone/tally/comms"
	"github.com/GoCodeAlone/tally/config"
	"github.com/GoCodeAlone/tally/internal/database"
	"github.com/GoCodeAlone/tally/internal/version"
	"github.com/GoCodeAlone/tally/lifecycle"
	"github.com/GoCodeAlone/tally/server"
	"github.com/GoCodeAlone/tally/task"
	"github.com/GoCodeAlone/tally/vocab"
)

var configPath = flag.String("config", "tally.yaml", "path to config file")

// stores is the storage backend chosen by config.
type stores struct {
	tasks task.Repository
	vocab vocab.Store
	users actor.Store
	close func()
}

func main() {
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	logger := cfg.NewLogger(os.Stdout)

	logger.Info("starting tallyd",
		"version", version.Version,
		"commit", version.Commit,
		"driver", cfg.Storage.Driver,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer st.close()

	voc := vocab.NewService(st.vocab, cfg.Vocabulary.InitialStatus, cfg.Vocabulary.TerminalStatus)
	if err := voc.Seed(ctx, cfg.Vocabulary.Departments, cfg.Vocabulary.Statuses); err != nil {
		log.Fatalf("Failed to seed vocabulary: %v", err)
	}

	dir := actor.NewDirectory(st.users, actor.HashScheme(cfg.Auth.Hash))
	if err := bootstrapAdmin(ctx, cfg, dir, logger); err != nil {
		log.Fatalf("Failed to bootstrap admin: %v", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("Invalid timezone: %v", err)
	}
	bus := comms.NewInMemoryBus(0)
	engine := lifecycle.NewEngine(
		lifecycle.NewMaterializer(st.tasks, voc, bus, logger),
		lifecycle.NewArchiver(st.tasks, voc, bus, logger),
		cfg.Lifecycle.ArchiveAfterDays, loc, logger)
	if _, err := engine.Run(ctx); err != nil {
		logger.Error("initial lifecycle run failed", "error", err)
	}

	srv := server.New(*cfg, version.Version, logger)
	srv.SetTaskService(lifecycle.NewService(st.tasks, voc, bus, logger))
	srv.SetLifecycle(engine)
	srv.SetVocabulary(voc)
	srv.SetDirectory(dir)
	srv.SetBus(bus)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Printf("tally server running on %s\n", cfg.Server.Addr)
	fmt.Printf("Version: %s\n", version.String())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	}

	fmt.Println("Shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server stop error", "error", err)
	}
	fmt.Println("Shutdown complete")
}

// openStores connects the configured backend and creates every table.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Storage.Driver == config.DriverPostgres {
		pool, err := database.ConnectPostgres(ctx, cfg.Storage.DSN, cfg.Storage.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		tasks, err := task.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		vs, err := vocab.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		us, err := actor.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return &stores{tasks: tasks, vocab: vs, users: us, close: pool.Close}, nil
	}

	if cfg.Storage.DSN == "" {
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := database.OpenSQLite(cfg.SQLitePath())
	if err != nil {
		return nil, err
	}
	tasks, err := task.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	vs, err := vocab.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	us, err := actor.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &stores{tasks: tasks, vocab: vs, users: us, close: func() { _ = db.Close() }}, nil
}

// bootstrapAdmin creates the configured manager account on first start.
// TALLY_ADMIN_PASSWORD supplies a plaintext password when no hash is
// configured.
func bootstrapAdmin(ctx context.Context, cfg *config.Config, dir *actor.Directory, logger *slog.Logger) error {
	hash := cfg.Auth.AdminPass
	if hash == "" {
		if pw := os.Getenv("TALLY_ADMIN_PASSWORD"); pw != "" {
			h, err := actor.HashPassword(actor.HashScheme(cfg.Auth.Hash), pw)
			if err != nil {
				return err
			}
			hash = h
		}
	}
	if hash == "" {
		logger.Warn("no admin password configured; skipping admin bootstrap", "user", cfg.Auth.AdminUser)
		return nil
	}
	created, err := dir.Bootstrap(ctx, cfg.Auth.AdminUser, hash)
	if err != nil {
		return err
	}
	if created {
		logger.Info("admin account created", "user", cfg.Auth.AdminUser)
	}
	return nil
}

// Package server implements the tally HTTP server, REST API, auth, and SSE
// real-time events.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/GoCodeAlone/tally/actor"
	"github.com/GoCodeAlone/tally/comms"
	"github.com/GoCodeAlone/tally/config"
	"github.com/GoCodeAlone/tally/lifecycle"
	"github.com/GoCodeAlone/tally/server/api"
	"github.com/GoCodeAlone/tally/vocab"
)

// Server is the tally HTTP server.
type Server struct {
	cfg     config.Config
	mux     *http.ServeMux
	httpSrv *http.Server
	logger  *slog.Logger

	tasks     *lifecycle.Service
	engine    api.LifecycleRunner
	vocab     *vocab.Service
	directory *actor.Directory
	bus       comms.Bus
	handlers  *api.Handlers

	// JWT secret caching
	secretOnce      sync.Once
	generatedSecret string

	routesOnce sync.Once
	startTime  time.Time
	version    string
}

// New creates a new Server with the given config and logger.
func New(cfg config.Config, ver string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger,
		startTime: time.Now(),
		version:   ver,
	}
}

// SetTaskService attaches the task service.
func (s *Server) SetTaskService(svc *lifecycle.Service) { s.tasks = svc }

// SetLifecycle attaches the engine run on every authenticated request.
func (s *Server) SetLifecycle(r api.LifecycleRunner) { s.engine = r }

// SetVocabulary attaches the vocabulary service.
func (s *Server) SetVocabulary(v *vocab.Service) { s.vocab = v }

// SetDirectory attaches the actor directory used for login.
func (s *Server) SetDirectory(d *actor.Directory) { s.directory = d }

// SetBus attaches the event bus streamed over SSE.
func (s *Server) SetBus(bus comms.Bus) { s.bus = bus }

// Handler registers routes once and returns the root handler.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.registerRoutes)
	return s.mux
}

// Start registers routes and begins listening.
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":9090"
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.logger.Info("server listening", slog.String("addr", addr))
	return s.httpSrv.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	h := &api.Handlers{
		Tasks:        s.tasks,
		Lifecycle:    s.engine,
		Vocab:        s.vocab,
		Directory:    s.directory,
		Bus:          s.bus,
		Logger:       s.logger,
		Version:      s.version,
		StartAt:      s.startTime,
		OnlineWindow: s.cfg.Lifecycle.OnlineWindow,
	}
	s.handlers = h

	// Public routes (no auth required)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	s.mux.HandleFunc("GET /api/status", h.StatusHandler())

	// SSE: auth handled inline because EventSource can't set headers
	s.mux.HandleFunc("GET /events", s.handleSSE)

	// Protected API: auth first, then the opportunistic lifecycle pass.
	apiMux := http.NewServeMux()
	h.RegisterRoutes(apiMux)
	apiMux.HandleFunc("GET /api/auth/me", s.handleMe)

	s.mux.Handle("/api/", s.authMiddleware(s.lifecycleMiddleware(apiMux)))
}

// lifecycleMiddleware materializes due templates and archives stale tasks
// before the request reads anything. A failed pass fails the request so
// callers never act on a half-updated view.
func (s *Server) lifecycleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.engine != nil {
			if _, err := s.engine.Run(r.Context()); err != nil {
				s.logger.Error("lifecycle run", slog.Any("err", err))
				writeJSONError(w, http.StatusServiceUnavailable, "storage unavailable")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleSSE streams bus events visible to the authenticated actor.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	// EventSource can't set headers, so the token may come as a query param.
	a, err := s.actorFromRequest(r)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	if s.bus == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := make(chan []byte, 64)
	unsubscribe := s.bus.Subscribe(api.SubscriberID(a), func(_ context.Context, e *comms.Event) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		select {
		case ch <- data:
		default:
			// Client channel full, skip
		}
		return nil
	})
	defer unsubscribe()

	fmt.Fprintf(w, "data: {\"type\":\"connected\"}\n\n") //nolint:errcheck
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-ch:
			fmt.Fprintf(w, "data: %s\n\n", data) //nolint:errcheck
			flusher.Flush()
		}
	}
}

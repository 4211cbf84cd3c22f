package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/civil"

	"github.com/GoCodeAlone/tally/access"
	"github.com/GoCodeAlone/tally/actor"
	"github.com/GoCodeAlone/tally/comms"
	"github.com/GoCodeAlone/tally/lifecycle"
	"github.com/GoCodeAlone/tally/report"
	"github.com/GoCodeAlone/tally/task"
	"github.com/GoCodeAlone/tally/vocab"
)

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Tasks        *lifecycle.Service
	Lifecycle    LifecycleRunner
	Vocab        *vocab.Service
	Directory    *actor.Directory
	Bus          comms.Bus
	Logger       *slog.Logger
	Version      string
	StartAt      time.Time
	OnlineWindow time.Duration
}

// RegisterRoutes registers all authenticated API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tasks", h.listTasks)
	mux.HandleFunc("POST /api/tasks", h.createTask)
	mux.HandleFunc("GET /api/tasks/{id}", h.getTask)
	mux.HandleFunc("PATCH /api/tasks/{id}", h.updateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", h.deleteTask)

	mux.HandleFunc("GET /api/templates", h.listTemplates)
	mux.HandleFunc("DELETE /api/templates/{id}", h.deleteTemplate)

	mux.HandleFunc("POST /api/lifecycle/run", h.runLifecycle)
	mux.HandleFunc("GET /api/metrics", h.metrics)

	mux.HandleFunc("GET /api/vocabulary", h.getVocabulary)
	mux.HandleFunc("POST /api/vocabulary/{kind}", h.addVocabulary)
	mux.HandleFunc("DELETE /api/vocabulary/{kind}/{name}", h.removeVocabulary)

	mux.HandleFunc("GET /api/users", h.listUsers)
	mux.HandleFunc("POST /api/users", h.createUser)
	mux.HandleFunc("GET /api/users/online", h.onlineUsers)
	mux.HandleFunc("DELETE /api/users/{name}", h.deleteUser)

	mux.HandleFunc("GET /api/events", h.listEvents)
	mux.HandleFunc("GET /api/version", h.version)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps err onto a status code. Anything unrecognised is a store failure
// and is logged.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound), errors.Is(err, actor.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, actor.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case lifecycle.IsValidation(err),
		errors.Is(err, vocab.ErrEmptyName),
		errors.Is(err, vocab.ErrUnknownKind),
		errors.Is(err, actor.ErrInvalidUser):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.Logger.Error("request failed",
			slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// caller returns the authenticated actor. The auth middleware guarantees one.
func caller(r *http.Request) actor.Actor {
	a, _ := ActorFrom(r.Context())
	return a
}

func requirePrivileged(w http.ResponseWriter, r *http.Request) bool {
	if !caller(r).Privileged() {
		writeError(w, http.StatusForbidden, "manager role required")
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// --- Task handlers ---

// parseFilter reads the list query parameters shared by tasks and metrics.
func parseFilter(r *http.Request) (task.Filter, access.Options, error) {
	q := r.URL.Query()
	f := task.Filter{
		Assignee:   q.Get("assignee"),
		Department: q.Get("department"),
		Status:     q.Get("status"),
	}
	for key, dst := range map[string]**civil.Date{"from": &f.DeadlineFrom, "to": &f.DeadlineTo} {
		if v := q.Get(key); v != "" {
			d, err := civil.ParseDate(v)
			if err != nil {
				return f, access.Options{}, errors.New(key + ": expected YYYY-MM-DD")
			}
			*dst = &d
		}
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			f.Limit = n
		}
	}
	if o := q.Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil {
			f.Offset = n
		}
	}
	opts := access.Options{IncludeArchived: q.Get("archived") == "true"}
	return f, opts, nil
}

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	f, opts, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tasks, err := h.Tasks.ListVisible(r.Context(), caller(r), f, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if r.URL.Query().Get("group") == "department" {
		writeJSON(w, http.StatusOK, report.GroupByDepartment(tasks))
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// createTaskResponse is returned by POST /api/tasks.
type createTaskResponse struct {
	Task     *task.Task     `json:"task"`
	Template *task.Template `json:"template,omitempty"`
}

func (h *Handlers) createTask(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.NewTask
	if !decode(w, r, &in) {
		return
	}
	t, tpl, err := h.Tasks.CreateRecurringTask(r.Context(), caller(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createTaskResponse{Task: t, Template: tpl})
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	opts := access.Options{IncludeArchived: r.URL.Query().Get("archived") == "true"}
	t, err := h.Tasks.GetTask(r.Context(), caller(r), r.PathValue("id"), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) updateTask(w http.ResponseWriter, r *http.Request) {
	var u lifecycle.Update
	if !decode(w, r, &u) {
		return
	}
	t, err := h.Tasks.UpdateTask(r.Context(), caller(r), r.PathValue("id"), u)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.Tasks.DeleteTask(r.Context(), caller(r), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Templates and lifecycle ---

func (h *Handlers) listTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := h.Tasks.ListTemplates(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tpls)
}

func (h *Handlers) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.Tasks.DeleteTemplate(r.Context(), caller(r), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) runLifecycle(w http.ResponseWriter, r *http.Request) {
	res, err := h.Lifecycle.Run(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) metrics(w http.ResponseWriter, r *http.Request) {
	f, opts, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.Limit, f.Offset = 0, 0
	tasks, err := h.Tasks.ListVisible(r.Context(), caller(r), f, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.Vocab.Snapshot(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report.Build(tasks, h.Lifecycle.Today(), v.Terminal))
}

// --- Vocabulary ---

func (h *Handlers) getVocabulary(w http.ResponseWriter, r *http.Request) {
	v, err := h.Vocab.Snapshot(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type nameRequest struct {
	Name string `json:"name"`
}

func (h *Handlers) addVocabulary(w http.ResponseWriter, r *http.Request) {
	if !requirePrivileged(w, r) {
		return
	}
	kind, err := vocab.ParseKind(r.PathValue("kind"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req nameRequest
	if !decode(w, r, &req) {
		return
	}
	added, err := h.Vocab.Store().Add(r.Context(), kind, req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"added": added})
}

func (h *Handlers) removeVocabulary(w http.ResponseWriter, r *http.Request) {
	if !requirePrivileged(w, r) {
		return
	}
	kind, err := vocab.ParseKind(r.PathValue("kind"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	removed, err := h.Vocab.Store().Remove(r.Context(), kind, r.PathValue("name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

// --- Users ---

func (h *Handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Directory.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (h *Handlers) createUser(w http.ResponseWriter, r *http.Request) {
	if !requirePrivileged(w, r) {
		return
	}
	var req createUserRequest
	if !decode(w, r, &req) {
		return
	}
	role, err := actor.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.Directory.Register(r.Context(), req.Username, req.Password, role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]bool{"created": created})
}

func (h *Handlers) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.Directory.Remove(r.Context(), caller(r), r.PathValue("name")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) onlineUsers(w http.ResponseWriter, r *http.Request) {
	names, err := h.Directory.Online(r.Context(), h.OnlineWindow, caller(r).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// --- Events / version ---

// SubscriberID is the bus subscription an actor reads: managers see every
// event, others only what concerns them.
func SubscriberID(a actor.Actor) string {
	if a.Privileged() {
		return comms.Everyone
	}
	return a.ID
}

func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}
	events, err := h.Bus.History(SubscriberID(caller(r)), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        h.Version,
		"uptime_seconds": int64(time.Since(h.StartAt).Seconds()),
	})
}

// StatusHandler returns the status handler function for external registration.
func (h *Handlers) StatusHandler() http.HandlerFunc {
	return h.status
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
	})
}

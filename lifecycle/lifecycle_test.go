package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"github.com/GoCodeAlone/tally/access"
	"github.com/GoCodeAlone/tally/actor"
	"github.com/GoCodeAlone/tally/comms"
	"github.com/GoCodeAlone/tally/internal/database"
	"github.com/GoCodeAlone/tally/schedule"
	"github.com/GoCodeAlone/tally/task"
	"github.com/GoCodeAlone/tally/vocab"
)

var (
	boss  = actor.Actor{ID: "boss", Role: actor.RoleManager}
	alice = actor.Actor{ID: "alice", Role: actor.RoleEmployee}
	bob   = actor.Actor{ID: "bob", Role: actor.RoleEmployee}
)

type fixture struct {
	repo    *task.SQLiteStore
	vocab   *vocab.Service
	bus     *comms.InMemoryBus
	engine  *Engine
	service *Service
	logs    *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f, err := os.CreateTemp("", "tally-lifecycle-*.db")
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
	voc := vocab.NewService(vs, "", "")
	if err := voc.Seed(context.Background(),
		[]string{"Engineering", "HR"},
		[]string{"To Do", "In Progress", "Done"}); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	bus := comms.NewInMemoryBus(0)
	m := NewMaterializer(repo, voc, bus, logger)
	a := NewArchiver(repo, voc, bus, logger)
	return &fixture{
		repo:    repo,
		vocab:   voc,
		bus:     bus,
		engine:  NewEngine(m, a, DefaultArchiveAfterDays, time.UTC, logger),
		service: NewService(repo, voc, bus, logger),
		logs:    logs,
	}
}

func day(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

func TestEngine_WeeklyTemplateEndToEnd(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	tpl := &task.Template{
		Name: "inventory", Department: "Engineering", Assignees: task.NewAssignees("alice"),
		Frequency: schedule.Weekly, NextRun: day(2024, 1, 1), TotalUnits: 4,
	}
	if _, err := fx.repo.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}

	res, err := fx.engine.RunAt(ctx, day(2024, 1, 8))
	if err != nil {
		t.Fatalf("RunAt: %v", err)
	}
	if res.Materialized != 1 {
		t.Fatalf("Materialized = %d, want 1", res.Materialized)
	}
	tasks, err := fx.repo.List(ctx, task.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(tasks))
	}
	got := tasks[0]
	if got.Deadline != day(2024, 1, 1) || got.Status != "To Do" || got.CompletedUnits != 0 || got.TotalUnits != 4 {
		t.Errorf("materialized task = %+v", got)
	}
	if got.TemplateID != tpl.ID || !got.Assignees.Contains("alice") {
		t.Errorf("task not linked to template: %+v", got)
	}
	stored, err := fx.repo.GetTemplate(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("GetTemplate: %v", err)
	}
	if stored.NextRun != day(2024, 1, 8) {
		t.Errorf("NextRun = %s, want 2024-01-08", stored.NextRun)
	}

	res, err = fx.engine.RunAt(ctx, day(2024, 1, 8))
	if err != nil {
		t.Fatalf("second RunAt: %v", err)
	}
	if res.Materialized != 0 {
		t.Errorf("second run Materialized = %d, want 0", res.Materialized)
	}

	// The next day the 2024-01-08 occurrence is produced.
	res, err = fx.engine.RunAt(ctx, day(2024, 1, 9))
	if err != nil {
		t.Fatalf("third RunAt: %v", err)
	}
	if res.Materialized != 1 {
		t.Errorf("third run Materialized = %d, want 1", res.Materialized)
	}

	hist, _ := fx.bus.History("alice", 0)
	if len(hist) != 2 || hist[0].Type != comms.TaskMaterialized {
		t.Errorf("expected two materialized events for alice, got %d", len(hist))
	}
}

func TestEngine_RunUsesClockAndTimezone(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	tokyo := time.FixedZone("JST", 9*60*60)
	fx.engine.loc = tokyo
	// 2024-01-07 20:00 UTC is already 2024-01-08 in Tokyo.
	fx.engine.SetClock(func() time.Time { return time.Date(2024, 1, 7, 20, 0, 0, 0, time.UTC) })

	tpl := &task.Template{Name: "daily", Frequency: schedule.Daily, NextRun: day(2024, 1, 8), TotalUnits: 1}
	if _, err := fx.repo.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	res, err := fx.engine.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Today != day(2024, 1, 8) || res.Materialized != 1 {
		t.Errorf("Run = %+v, want today 2024-01-08 with one task", res)
	}
}

func TestMaterializer_EmptyWeekdaySetFallsBack(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	tpl := &task.Template{Name: "broken", Frequency: schedule.Weekdays, NextRun: day(2024, 1, 1), TotalUnits: 1}
	if _, err := fx.repo.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	n, err := fx.engine.materializer.MaterializeDueTemplates(ctx, day(2024, 1, 1))
	if err != nil || n != 1 {
		t.Fatalf("MaterializeDueTemplates = %d, %v", n, err)
	}
	stored, _ := fx.repo.GetTemplate(ctx, tpl.ID)
	if stored.NextRun != day(2024, 1, 2) {
		t.Errorf("NextRun = %s, want 2024-01-02", stored.NextRun)
	}
	if !strings.Contains(fx.logs.String(), "has no weekdays") {
		t.Errorf("expected data integrity warning, logs:\n%s", fx.logs.String())
	}
}

// staleTemplates reports every template as already advanced.
type staleTemplates struct{ task.TemplateStore }

func (staleTemplates) Materialize(context.Context, string, civil.Date, civil.Date, civil.Date, *task.Task) error {
	return task.ErrStaleTemplate
}

// brokenTemplates fails every query.
type brokenTemplates struct{ task.TemplateStore }

var errDown = errors.New("store unavailable")

func (brokenTemplates) DueTemplates(context.Context, civil.Date) ([]*task.Template, error) {
	return nil, errDown
}

func TestMaterializer_SkipsStaleAndPropagatesFailures(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	tpl := &task.Template{Name: "daily", Frequency: schedule.Daily, NextRun: day(2024, 1, 1), TotalUnits: 1}
	if _, err := fx.repo.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}

	stale := NewMaterializer(staleTemplates{fx.repo}, fx.vocab, nil, nil)
	n, err := stale.MaterializeDueTemplates(ctx, day(2024, 1, 1))
	if err != nil || n != 0 {
		t.Errorf("stale: got %d, %v; want 0, nil", n, err)
	}

	broken := NewMaterializer(brokenTemplates{fx.repo}, fx.vocab, nil, nil)
	if _, err := broken.MaterializeDueTemplates(ctx, day(2024, 1, 1)); !errors.Is(err, errDown) {
		t.Errorf("broken: expected store error, got %v", err)
	}
}

func TestArchiver_Cutoff(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	today := day(2024, 3, 1)

	mk := func(name, status string, age int) *task.Task {
		tk := &task.Task{Name: name, Status: status, Deadline: today.AddDays(-age), TotalUnits: 1}
		if _, err := fx.repo.Create(ctx, tk); err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
		return tk
	}
	old := mk("done 31 days ago", "Done", 31)
	recent := mk("done 29 days ago", "Done", 29)
	edge := mk("done 30 days ago", "Done", 30)
	open := mk("in progress 40 days ago", "In Progress", 40)

	n, err := fx.engine.archiver.ArchiveStaleCompleted(ctx, today, 30)
	if err != nil {
		t.Fatalf("ArchiveStaleCompleted: %v", err)
	}
	if n != 1 {
		t.Errorf("archived %d, want 1", n)
	}
	for _, tc := range []struct {
		tk   *task.Task
		want bool
	}{{old, true}, {recent, false}, {edge, false}, {open, false}} {
		got, err := fx.repo.Get(ctx, tc.tk.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Archived != tc.want {
			t.Errorf("%s: archived = %v, want %v", got.Name, got.Archived, tc.want)
		}
	}

	n, err = fx.engine.archiver.ArchiveStaleCompleted(ctx, today, 30)
	if err != nil || n != 0 {
		t.Errorf("second sweep = %d, %v; want 0, nil", n, err)
	}
	if _, err := fx.engine.archiver.ArchiveStaleCompleted(ctx, today, -1); err == nil {
		t.Error("expected error for negative cutoff")
	}
}

func TestArchiver_NewStatusDoesNotBecomeTerminal(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	today := day(2024, 3, 1)

	done := &task.Task{Name: "shipped", Status: "Done", Deadline: today.AddDays(-40), TotalUnits: 1}
	blocked := &task.Task{Name: "waiting on vendor", Status: "To Do", Deadline: today.AddDays(-40), TotalUnits: 1}
	for _, tk := range []*task.Task{done, blocked} {
		if _, err := fx.repo.Create(ctx, tk); err != nil {
			t.Fatalf("Create %s: %v", tk.Name, err)
		}
	}
	if ok, err := fx.vocab.Store().Add(ctx, vocab.Statuses, "Blocked"); err != nil || !ok {
		t.Fatalf("Add Blocked = %v, %v", ok, err)
	}
	blocked.Status = "Blocked"
	if err := fx.repo.Update(ctx, blocked); err != nil {
		t.Fatalf("Update: %v", err)
	}

	n, err := fx.engine.archiver.ArchiveStaleCompleted(ctx, today, 30)
	if err != nil {
		t.Fatalf("ArchiveStaleCompleted: %v", err)
	}
	if n != 1 {
		t.Errorf("archived %d, want 1", n)
	}
	for _, tc := range []struct {
		tk   *task.Task
		want bool
	}{{done, true}, {blocked, false}} {
		got, err := fx.repo.Get(ctx, tc.tk.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Archived != tc.want {
			t.Errorf("%s (%s): archived = %v, want %v", got.Name, got.Status, got.Archived, tc.want)
		}
	}
}

func TestService_CreateTask(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	tk, err := fx.service.CreateTask(ctx, alice, NewTask{
		Name: "write docs", Department: "Engineering", Assignees: task.NewAssignees("alice", "bob"),
		Deadline: day(2024, 5, 1), TotalUnits: 3,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if tk.ID == "" || tk.Status != "To Do" {
		t.Errorf("CreateTask = %+v", tk)
	}

	bad := []NewTask{
		{Name: "x", Department: "Engineering", Status: "Blocked", Deadline: day(2024, 5, 1), TotalUnits: 1},
		{Name: "x", Department: "Legal", Deadline: day(2024, 5, 1), TotalUnits: 1},
		{Name: "x", Department: "Engineering", Deadline: day(2024, 5, 1), TotalUnits: 0},
		{Name: "x", Department: "Engineering", Deadline: day(2024, 5, 1), TotalUnits: 2, CompletedUnits: 3},
		{Name: " ", Department: "Engineering", Deadline: day(2024, 5, 1), TotalUnits: 1},
	}
	for i, in := range bad {
		if _, err := fx.service.CreateTask(ctx, alice, in); !IsValidation(err) {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}

	hist, _ := fx.bus.History("bob", 0)
	if len(hist) != 1 || hist[0].Type != comms.TaskCreated || hist[0].TaskID != tk.ID {
		t.Errorf("expected a task_created event for bob, got %+v", hist)
	}
}

func TestService_CreateTaskNotifiesEveryListedAssignee(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	var in NewTask
	body := `{"name":"pair review","department":"Engineering","assignees":["alice,bob"],"deadline":"2024-05-01","total_units":1}`
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		t.Fatalf("decode: %v", err)
	}
	tk, err := fx.service.CreateTask(ctx, boss, in)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	for _, id := range []string{"alice", "bob"} {
		hist, _ := fx.bus.History(id, 0)
		if len(hist) != 1 || hist[0].TaskID != tk.ID {
			t.Errorf("%s: expected task_created for %s, got %+v", id, tk.ID, hist)
		}
	}
}

func TestService_CreateRecurringTask(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	in := NewTask{
		Name: "backups", Department: "Engineering", Assignees: task.NewAssignees("bob"),
		Deadline: day(2024, 1, 1), TotalUnits: 1, // a Monday
		Frequency: schedule.Weekdays, Weekdays: schedule.NewWeekdaySet(time.Wednesday, time.Friday),
	}
	tk, tpl, err := fx.service.CreateRecurringTask(ctx, boss, in)
	if err != nil {
		t.Fatalf("CreateRecurringTask: %v", err)
	}
	if tk.Deadline != day(2024, 1, 1) || tpl.NextRun != day(2024, 1, 3) {
		t.Errorf("task deadline %s, template next run %s", tk.Deadline, tpl.NextRun)
	}

	in.Weekdays = 0
	if _, _, err := fx.service.CreateRecurringTask(ctx, boss, in); !errors.Is(err, task.ErrInvalidTemplate) {
		t.Errorf("expected ErrInvalidTemplate, got %v", err)
	}
	all, _ := fx.repo.List(ctx, task.Filter{})
	if len(all) != 1 {
		t.Errorf("invalid recurrence left a task behind: %d tasks", len(all))
	}

	in.Frequency = schedule.Once
	tk, tpl, err = fx.service.CreateRecurringTask(ctx, boss, in)
	if err != nil || tk == nil || tpl != nil {
		t.Errorf("once: task=%v template=%v err=%v", tk, tpl, err)
	}

	mine, err := fx.service.ListTemplates(ctx, bob)
	if err != nil || len(mine) != 1 {
		t.Errorf("bob templates = %d, %v", len(mine), err)
	}
	if others, _ := fx.service.ListTemplates(ctx, alice); len(others) != 0 {
		t.Errorf("alice should see no templates, got %d", len(others))
	}
}

// failingSeries rejects every recurring create.
type failingSeries struct{ *task.SQLiteStore }

func (failingSeries) CreateWithTemplate(context.Context, *task.Task, *task.Template) error {
	return errDown
}

func TestService_CreateRecurringTaskIsAtomic(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	svc := NewService(failingSeries{fx.repo}, fx.vocab, fx.bus, nil)

	tk, tpl, err := svc.CreateRecurringTask(ctx, boss, NewTask{
		Name: "backups", Department: "Engineering", Assignees: task.NewAssignees("bob"),
		Deadline: day(2024, 1, 1), TotalUnits: 1, Frequency: schedule.Daily,
	})
	if !errors.Is(err, errDown) {
		t.Fatalf("expected store error, got %v", err)
	}
	if tk != nil || tpl != nil {
		t.Errorf("got task %v template %v on failure", tk, tpl)
	}
	all, _ := fx.repo.List(ctx, task.Filter{IncludeArchived: true})
	if len(all) != 0 {
		t.Errorf("failed recurring create left %d tasks behind", len(all))
	}
	if hist, _ := fx.bus.History("bob", 0); len(hist) != 0 {
		t.Errorf("failed create published %d events", len(hist))
	}
}

func TestService_UpdateTask(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	tk, err := fx.service.CreateTask(ctx, boss, NewTask{
		Name: "audit", Department: "HR", Assignees: task.NewAssignees("alice"),
		Status: "In Progress", Deadline: day(2024, 5, 1), TotalUnits: 4,
		Attachment: "uploads/a.csv", Link: "https://example.com/a",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	done := "Done"
	three := 3
	got, err := fx.service.UpdateTask(ctx, alice, tk.ID, Update{Status: &done, CompletedUnits: &three})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if got.Status != "Done" || got.CompletedUnits != 3 {
		t.Errorf("UpdateTask = %+v", got)
	}
	if got.Attachment != "uploads/a.csv" || got.Link != "https://example.com/a" {
		t.Errorf("empty attachment/link overwrote stored values: %+v", got)
	}

	got, err = fx.service.UpdateTask(ctx, alice, tk.ID, Update{Link: "https://example.com/b"})
	if err != nil || got.Link != "https://example.com/b" {
		t.Errorf("link update: %+v, %v", got, err)
	}

	if _, err := fx.service.SetProgress(ctx, alice, tk.ID, 5); !errors.Is(err, task.ErrProgressOutOfRange) {
		t.Errorf("expected ErrProgressOutOfRange, got %v", err)
	}
	if _, err := fx.service.SetProgress(ctx, alice, tk.ID, -1); !errors.Is(err, task.ErrProgressOutOfRange) {
		t.Errorf("expected ErrProgressOutOfRange for negative, got %v", err)
	}
	stored, _ := fx.repo.Get(ctx, tk.ID)
	if stored.CompletedUnits != 3 {
		t.Errorf("rejected update changed progress to %d", stored.CompletedUnits)
	}

	if _, err := fx.service.UpdateTask(ctx, bob, tk.ID, Update{Link: "x"}); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("bob update: expected ErrNotFound, got %v", err)
	}
}

func TestService_UpdateKeepsRemovedStatus(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	tk, err := fx.service.CreateTask(ctx, boss, NewTask{
		Name: "legacy", Department: "HR", Assignees: task.NewAssignees("alice"),
		Status: "In Progress", Deadline: day(2024, 5, 1), TotalUnits: 2,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if ok, err := fx.vocab.Store().Remove(ctx, vocab.Statuses, "In Progress"); err != nil || !ok {
		t.Fatalf("Remove: %v %v", ok, err)
	}

	current := "In Progress"
	one := 1
	if _, err := fx.service.UpdateTask(ctx, alice, tk.ID, Update{Status: &current, CompletedUnits: &one}); err != nil {
		t.Errorf("keeping a removed status should be allowed: %v", err)
	}
	gone := "Blocked"
	if _, err := fx.service.UpdateTask(ctx, alice, tk.ID, Update{Status: &gone}); !errors.Is(err, vocab.ErrUnknownValue) {
		t.Errorf("expected ErrUnknownValue, got %v", err)
	}
}

func TestService_DeleteTask(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	tk, err := fx.service.CreateTask(ctx, boss, NewTask{
		Name: "temp", Department: "HR", Assignees: task.NewAssignees("alice"), Deadline: day(2024, 5, 1), TotalUnits: 1,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := fx.service.DeleteTask(ctx, alice, tk.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("employee delete: expected ErrForbidden, got %v", err)
	}
	if err := fx.service.DeleteTask(ctx, boss, tk.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if err := fx.service.DeleteTask(ctx, boss, tk.ID); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestService_ListVisible(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	for _, in := range []NewTask{
		{Name: "shared", Assignees: task.ParseAssignees("alice, bob")},
		{Name: "bobby's", Assignees: task.ParseAssignees("bobby")},
		{Name: "alice only", Assignees: task.ParseAssignees("alice")},
	} {
		in.Department, in.Deadline, in.TotalUnits = "HR", day(2024, 5, 1), 1
		if _, err := fx.service.CreateTask(ctx, boss, in); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	got, err := fx.service.ListVisible(ctx, bob, task.Filter{}, access.Options{})
	if err != nil {
		t.Fatalf("ListVisible: %v", err)
	}
	if len(got) != 1 || got[0].Name != "shared" {
		t.Errorf("bob sees %d tasks", len(got))
	}
	all, _ := fx.service.ListVisible(ctx, boss, task.Filter{}, access.Options{})
	if len(all) != 3 {
		t.Errorf("manager sees %d tasks, want 3", len(all))
	}
}

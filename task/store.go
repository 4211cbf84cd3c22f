package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/GoCodeAlone/tally/schedule"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	department      TEXT NOT NULL DEFAULT '',
	assignees       TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	deadline        TEXT NOT NULL,
	total_units     INTEGER NOT NULL CHECK (total_units > 0),
	completed_units INTEGER NOT NULL DEFAULT 0,
	description     TEXT NOT NULL DEFAULT '',
	attachment      TEXT NOT NULL DEFAULT '',
	link            TEXT NOT NULL DEFAULT '',
	archived        INTEGER NOT NULL DEFAULT 0,
	template_id     TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL,
	CHECK (completed_units >= 0 AND completed_units <= total_units)
);
CREATE INDEX IF NOT EXISTS idx_tasks_archived_deadline ON tasks (archived, deadline);

CREATE TABLE IF NOT EXISTS templates (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	department  TEXT NOT NULL DEFAULT '',
	assignees   TEXT NOT NULL DEFAULT '',
	frequency   TEXT NOT NULL,
	weekdays    TEXT,
	next_run    TEXT NOT NULL,
	last_run    TEXT,
	total_units INTEGER NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	link        TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_templates_next_run ON templates (next_run);
`

const taskColumns = `id, name, department, assignees, status, deadline, total_units, completed_units,
	description, attachment, link, archived, template_id, created_at, updated_at`

const templateColumns = `id, name, department, assignees, frequency, weekdays, next_run, last_run, total_units,
	description, link, created_at, updated_at`

// SQLiteStore persists tasks and templates in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLiteStore wraps an open database and ensures the tables exist.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("create task schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// newID generates a random UUID.
func newID() string { return uuid.NewString() }

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Create persists a new task and sets its ID, CreatedAt, and UpdatedAt.
func (s *SQLiteStore) Create(ctx context.Context, t *Task) (string, error) {
	if err := insertTask(ctx, s.db, t); err != nil {
		return "", err
	}
	return t.ID, nil
}

func insertTask(ctx context.Context, db execer, t *Task) error {
	t.ID = newID()
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Name, t.Department, t.Assignees.String(), t.Status, t.Deadline.String(),
		t.TotalUnits, t.CompletedUnits,
		t.Description, t.Attachment, t.Link, t.Archived, t.TemplateID,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get retrieves a task by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// Update saves changes to an existing task, updating UpdatedAt automatically.
func (s *SQLiteStore) Update(ctx context.Context, t *Task) error {
	t.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			name=?, department=?, assignees=?, status=?, deadline=?, total_units=?, completed_units=?,
			description=?, attachment=?, link=?, archived=?, updated_at=?
		WHERE id=?`,
		t.Name, t.Department, t.Assignees.String(), t.Status, t.Deadline.String(),
		t.TotalUnits, t.CompletedUnits,
		t.Description, t.Attachment, t.Link, t.Archived, t.UpdatedAt,
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return expectOne(res, "task", t.ID)
}

// List returns tasks matching the filter. Assignee matching happens after the
// rows are decoded so that it is always an exact set-membership test.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*Task, error) {
	q := strings.Builder{}
	q.WriteString("SELECT " + taskColumns + " FROM tasks WHERE 1=1")
	args := []any{}

	if !filter.IncludeArchived {
		q.WriteString(" AND archived=0")
	}
	if filter.Department != "" {
		q.WriteString(" AND department=?")
		args = append(args, filter.Department)
	}
	if filter.Status != "" {
		q.WriteString(" AND status=?")
		args = append(args, filter.Status)
	}
	if filter.DeadlineFrom != nil {
		q.WriteString(" AND deadline>=?")
		args = append(args, filter.DeadlineFrom.String())
	}
	if filter.DeadlineTo != nil {
		q.WriteString(" AND deadline<=?")
		args = append(args, filter.DeadlineTo.String())
	}
	q.WriteString(" ORDER BY deadline ASC, created_at ASC")

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if filter.Match(t) {
			tasks = append(tasks, t)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return filter.paginate(tasks), nil
}

// Delete removes a task by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return expectOne(res, "task", id)
}

// ArchiveCompleted flags stale terminal tasks as archived.
func (s *SQLiteStore) ArchiveCompleted(ctx context.Context, terminal string, before civil.Date) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET archived=1, updated_at=?
		WHERE status=? AND deadline<? AND archived=0`,
		time.Now().UTC(), terminal, before.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("archive tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// CreateTemplate persists a new recurring template.
func (s *SQLiteStore) CreateTemplate(ctx context.Context, tpl *Template) (string, error) {
	if err := insertTemplate(ctx, s.db, tpl); err != nil {
		return "", err
	}
	return tpl.ID, nil
}

func insertTemplate(ctx context.Context, db execer, tpl *Template) error {
	tpl.ID = newID()
	now := time.Now().UTC()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now

	_, err := db.ExecContext(ctx, `
		INSERT INTO templates (`+templateColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		tpl.ID, tpl.Name, tpl.Department, tpl.Assignees.String(), string(tpl.Frequency),
		tpl.Weekdays.String(), tpl.NextRun.String(), nullDate(tpl.LastRun), tpl.TotalUnits,
		tpl.Description, tpl.Link, tpl.CreatedAt, tpl.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// CreateWithTemplate inserts tpl and t inside one transaction.
func (s *SQLiteStore) CreateWithTemplate(ctx context.Context, t *Task, tpl *Template) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = insertTemplate(ctx, tx, tpl); err != nil {
		return err
	}
	if err = insertTask(ctx, tx, t); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create: %w", err)
	}
	return nil
}

// GetTemplate retrieves a template by ID.
func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*Template, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = ?`, id)
	tpl, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get template %s: %w", id, err)
	}
	return tpl, nil
}

// ListTemplates returns all templates ordered by next run date.
func (s *SQLiteStore) ListTemplates(ctx context.Context) ([]*Template, error) {
	return s.queryTemplates(ctx, `SELECT `+templateColumns+` FROM templates ORDER BY next_run ASC, created_at ASC`)
}

// DueTemplates returns templates whose next run is on or before asOf and
// that have not already run on asOf.
func (s *SQLiteStore) DueTemplates(ctx context.Context, asOf civil.Date) ([]*Template, error) {
	return s.queryTemplates(ctx,
		`SELECT `+templateColumns+` FROM templates
		WHERE next_run<=? AND (last_run IS NULL OR last_run<?)
		ORDER BY next_run ASC, created_at ASC`,
		asOf.String(), asOf.String())
}

func (s *SQLiteStore) queryTemplates(ctx context.Context, query string, args ...any) ([]*Template, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	out := []*Template{}
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

// UpdateNextRun sets a template's next run date.
func (s *SQLiteStore) UpdateNextRun(ctx context.Context, id string, next civil.Date) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE templates SET next_run=?, updated_at=? WHERE id=?`,
		next.String(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	return expectOne(res, "template", id)
}

// Materialize inserts t and advances the template inside one transaction.
func (s *SQLiteStore) Materialize(ctx context.Context, templateID string, prev, next, on civil.Date, t *Task) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin materialize: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE templates SET next_run=?, last_run=?, updated_at=? WHERE id=? AND next_run=?`,
		next.String(), on.String(), time.Now().UTC(), templateID, prev.String())
	if err != nil {
		return fmt.Errorf("advance template %s: %w", templateID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("template %s: %w", templateID, ErrStaleTemplate)
	}

	t.TemplateID = templateID
	if err = insertTask(ctx, tx, t); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit materialize: %w", err)
	}
	return nil
}

// DeleteTemplate removes a template. Tasks it already produced are kept.
func (s *SQLiteStore) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM templates WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return expectOne(res, "template", id)
}

func expectOne(res sql.Result, kind, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var assignees, deadline string
	err := s.Scan(
		&t.ID, &t.Name, &t.Department, &assignees, &t.Status, &deadline,
		&t.TotalUnits, &t.CompletedUnits,
		&t.Description, &t.Attachment, &t.Link, &t.Archived, &t.TemplateID,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Assignees = ParseAssignees(assignees)
	if t.Deadline, err = civil.ParseDate(deadline); err != nil {
		return nil, fmt.Errorf("task %s deadline: %w", t.ID, err)
	}
	return &t, nil
}

func scanTemplate(s scanner) (*Template, error) {
	var tpl Template
	var assignees, frequency, nextRun string
	var weekdays, lastRun sql.NullString
	err := s.Scan(
		&tpl.ID, &tpl.Name, &tpl.Department, &assignees, &frequency, &weekdays, &nextRun, &lastRun,
		&tpl.TotalUnits, &tpl.Description, &tpl.Link, &tpl.CreatedAt, &tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return decodeTemplate(&tpl, assignees, frequency, weekdays.String, nextRun, lastRun.String)
}

// decodeTemplate fills the encoded columns. A NULL weekday column and an
// empty one both decode to the empty set.
func decodeTemplate(tpl *Template, assignees, frequency, weekdays, nextRun, lastRun string) (*Template, error) {
	var err error
	tpl.Assignees = ParseAssignees(assignees)
	tpl.Frequency = schedule.Frequency(frequency)
	if tpl.Weekdays, err = schedule.ParseWeekdays(weekdays); err != nil {
		return nil, fmt.Errorf("template %s weekdays: %w", tpl.ID, err)
	}
	if tpl.NextRun, err = civil.ParseDate(nextRun); err != nil {
		return nil, fmt.Errorf("template %s next run: %w", tpl.ID, err)
	}
	if lastRun != "" {
		if tpl.LastRun, err = civil.ParseDate(lastRun); err != nil {
			return nil, fmt.Errorf("template %s last run: %w", tpl.ID, err)
		}
	}
	return tpl, nil
}

// nullDate stores the zero date as NULL.
func nullDate(d civil.Date) any {
	if !d.IsValid() {
		return nil
	}
	return d.String()
}

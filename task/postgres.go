package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	department      TEXT NOT NULL DEFAULT '',
	assignees       TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	deadline        DATE NOT NULL,
	total_units     INTEGER NOT NULL CHECK (total_units > 0),
	completed_units INTEGER NOT NULL DEFAULT 0,
	description     TEXT NOT NULL DEFAULT '',
	attachment      TEXT NOT NULL DEFAULT '',
	link            TEXT NOT NULL DEFAULT '',
	archived        BOOLEAN NOT NULL DEFAULT FALSE,
	template_id     TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
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
	next_run    DATE NOT NULL,
	last_run    DATE,
	total_units INTEGER NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	link        TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_templates_next_run ON templates (next_run);
`

// PostgresStore persists tasks and templates in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresStore)(nil)

// NewPostgresStore wraps a pool and ensures the tables exist.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("create task schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// pgDate converts a calendar date into the value pgx encodes as DATE.
func pgDate(d civil.Date) time.Time { return d.In(time.UTC) }

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Create persists a new task.
func (s *PostgresStore) Create(ctx context.Context, t *Task) (string, error) {
	if err := pgInsertTask(ctx, s.pool, t); err != nil {
		return "", err
	}
	return t.ID, nil
}

func pgInsertTask(ctx context.Context, db pgExecer, t *Task) error {
	t.ID = newID()
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	const insertTaskQuery = `
INSERT INTO tasks (` + taskColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
`
	_, err := db.Exec(ctx, insertTaskQuery,
		t.ID, t.Name, t.Department, t.Assignees.String(), t.Status, pgDate(t.Deadline),
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
func (s *PostgresStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := pgScanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// Update saves changes to an existing task.
func (s *PostgresStore) Update(ctx context.Context, t *Task) error {
	t.UpdatedAt = time.Now().UTC()
	const updateTaskQuery = `
UPDATE tasks
SET name = $1, department = $2, assignees = $3, status = $4, deadline = $5,
    total_units = $6, completed_units = $7, description = $8, attachment = $9,
    link = $10, archived = $11, updated_at = $12
WHERE id = $13
`
	tag, err := s.pool.Exec(ctx, updateTaskQuery,
		t.Name, t.Department, t.Assignees.String(), t.Status, pgDate(t.Deadline),
		t.TotalUnits, t.CompletedUnits, t.Description, t.Attachment,
		t.Link, t.Archived, t.UpdatedAt,
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// List returns tasks matching the filter.
func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*Task, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !filter.IncludeArchived {
		where = append(where, "archived = FALSE")
	}
	if filter.Department != "" {
		where = append(where, "department = "+arg(filter.Department))
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(filter.Status))
	}
	if filter.DeadlineFrom != nil {
		where = append(where, "deadline >= "+arg(pgDate(*filter.DeadlineFrom)))
	}
	if filter.DeadlineTo != nil {
		where = append(where, "deadline <= "+arg(pgDate(*filter.DeadlineTo)))
	}

	q := "SELECT " + taskColumns + " FROM tasks"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY deadline ASC, created_at ASC"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		t, err := pgScanTask(rows)
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
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// ArchiveCompleted flags stale terminal tasks as archived.
func (s *PostgresStore) ArchiveCompleted(ctx context.Context, terminal string, before civil.Date) (int, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE tasks SET archived = TRUE, updated_at = $1
WHERE status = $2 AND deadline < $3 AND archived = FALSE`,
		time.Now().UTC(), terminal, pgDate(before))
	if err != nil {
		return 0, fmt.Errorf("archive tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CreateTemplate persists a new recurring template.
func (s *PostgresStore) CreateTemplate(ctx context.Context, tpl *Template) (string, error) {
	if err := pgInsertTemplate(ctx, s.pool, tpl); err != nil {
		return "", err
	}
	return tpl.ID, nil
}

func pgInsertTemplate(ctx context.Context, db pgExecer, tpl *Template) error {
	tpl.ID = newID()
	now := time.Now().UTC()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now

	const insertTemplateQuery = `
INSERT INTO templates (` + templateColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`
	_, err := db.Exec(ctx, insertTemplateQuery,
		tpl.ID, tpl.Name, tpl.Department, tpl.Assignees.String(), string(tpl.Frequency),
		tpl.Weekdays.String(), pgDate(tpl.NextRun), pgNullDate(tpl.LastRun), tpl.TotalUnits,
		tpl.Description, tpl.Link, tpl.CreatedAt, tpl.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// CreateWithTemplate inserts tpl and t inside one transaction.
func (s *PostgresStore) CreateWithTemplate(ctx context.Context, t *Task, tpl *Template) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := pgInsertTemplate(ctx, tx, tpl); err != nil {
			return err
		}
		return pgInsertTask(ctx, tx, t)
	})
}

// GetTemplate retrieves a template by ID.
func (s *PostgresStore) GetTemplate(ctx context.Context, id string) (*Template, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = $1`, id)
	tpl, err := pgScanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get template %s: %w", id, err)
	}
	return tpl, nil
}

// ListTemplates returns all templates ordered by next run date.
func (s *PostgresStore) ListTemplates(ctx context.Context) ([]*Template, error) {
	return s.queryTemplates(ctx, `SELECT `+templateColumns+` FROM templates ORDER BY next_run, created_at`)
}

// DueTemplates returns templates whose next run is on or before asOf and
// that have not already run on asOf.
func (s *PostgresStore) DueTemplates(ctx context.Context, asOf civil.Date) ([]*Template, error) {
	return s.queryTemplates(ctx, `
SELECT `+templateColumns+` FROM templates
WHERE next_run <= $1 AND (last_run IS NULL OR last_run < $1)
ORDER BY next_run, created_at`,
		pgDate(asOf))
}

func (s *PostgresStore) queryTemplates(ctx context.Context, query string, args ...any) ([]*Template, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	out := []*Template{}
	for rows.Next() {
		tpl, err := pgScanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

// UpdateNextRun sets a template's next run date.
func (s *PostgresStore) UpdateNextRun(ctx context.Context, id string, next civil.Date) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE templates SET next_run = $1, updated_at = $2 WHERE id = $3`,
		pgDate(next), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return nil
}

// Materialize inserts t and advances the template inside one transaction.
func (s *PostgresStore) Materialize(ctx context.Context, templateID string, prev, next, on civil.Date, t *Task) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE templates SET next_run = $1, last_run = $2, updated_at = $3 WHERE id = $4 AND next_run = $5`,
			pgDate(next), pgDate(on), time.Now().UTC(), templateID, pgDate(prev))
		if err != nil {
			return fmt.Errorf("advance template %s: %w", templateID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("template %s: %w", templateID, ErrStaleTemplate)
		}
		t.TemplateID = templateID
		return pgInsertTask(ctx, tx, t)
	})
}

// DeleteTemplate removes a template.
func (s *PostgresStore) DeleteTemplate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return nil
}

func pgScanTask(row pgx.Row) (*Task, error) {
	var t Task
	var assignees string
	var deadline time.Time
	err := row.Scan(
		&t.ID, &t.Name, &t.Department, &assignees, &t.Status, &deadline,
		&t.TotalUnits, &t.CompletedUnits,
		&t.Description, &t.Attachment, &t.Link, &t.Archived, &t.TemplateID,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Assignees = ParseAssignees(assignees)
	t.Deadline = civil.DateOf(deadline)
	return &t, nil
}

func pgScanTemplate(row pgx.Row) (*Template, error) {
	var tpl Template
	var assignees, frequency string
	var weekdays *string
	var nextRun time.Time
	var lastRun *time.Time
	err := row.Scan(
		&tpl.ID, &tpl.Name, &tpl.Department, &assignees, &frequency, &weekdays, &nextRun, &lastRun,
		&tpl.TotalUnits, &tpl.Description, &tpl.Link, &tpl.CreatedAt, &tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	var wd string
	if weekdays != nil {
		wd = *weekdays
	}
	var lr string
	if lastRun != nil {
		lr = civil.DateOf(*lastRun).String()
	}
	return decodeTemplate(&tpl, assignees, frequency, wd, civil.DateOf(nextRun).String(), lr)
}

func pgNullDate(d civil.Date) *time.Time {
	if !d.IsValid() {
		return nil
	}
	t := pgDate(d)
	return &t
}

// Package task defines tasks, recurring templates, and their persistence.
package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/GoCodeAlone/tally/schedule"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrProgressOutOfRange = errors.New("completed units out of range")
	ErrInvalidTotal       = errors.New("total units must be positive")
	ErrInvalidTemplate    = errors.New("invalid recurring template")
	ErrInvalidTask        = errors.New("invalid task")
	// ErrStaleTemplate means the template's next run date changed between
	// selection and materialization, usually because another request got there
	// first.
	ErrStaleTemplate = errors.New("template already advanced")
)

// Task is a unit of trackable work.
type Task struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Department     string     `json:"department"`
	Assignees      Assignees  `json:"assignees"`
	Status         string     `json:"status"`
	Deadline       civil.Date `json:"deadline"`
	TotalUnits     int        `json:"total_units"`
	CompletedUnits int        `json:"completed_units"`
	Description    string     `json:"description,omitempty"`
	Attachment     string     `json:"attachment,omitempty"` // opaque reference, never dereferenced here
	Link           string     `json:"link,omitempty"`
	Archived       bool       `json:"archived"`
	TemplateID     string     `json:"template_id,omitempty"` // set on materialized tasks
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Validate checks the unit counters and required fields.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTask)
	}
	if !t.Deadline.IsValid() {
		return fmt.Errorf("%w: invalid deadline %q", ErrInvalidTask, t.Deadline.String())
	}
	if t.TotalUnits <= 0 {
		return ErrInvalidTotal
	}
	return CheckProgress(t.CompletedUnits, t.TotalUnits)
}

// CheckProgress rejects a completed count outside [0, total].
func CheckProgress(completed, total int) error {
	if completed < 0 || completed > total {
		return fmt.Errorf("%w: %d of %d", ErrProgressOutOfRange, completed, total)
	}
	return nil
}

// Progress returns the completion percentage, 0..100.
func (t *Task) Progress() int {
	if t.TotalUnits <= 0 {
		return 0
	}
	return t.CompletedUnits * 100 / t.TotalUnits
}

// IsOverdue reports whether the deadline has passed and the task is not in
// the terminal status.
func (t *Task) IsOverdue(today civil.Date, terminal string) bool {
	return t.Deadline.Before(today) && t.Status != terminal
}

// Template is a recipe that produces a Task each time it comes due.
type Template struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Department  string              `json:"department"`
	Assignees   Assignees           `json:"assignees"`
	Frequency   schedule.Frequency  `json:"frequency"`
	Weekdays    schedule.WeekdaySet `json:"weekdays"`
	NextRun     civil.Date          `json:"next_run"`
	LastRun     civil.Date          `json:"last_run"` // day it last produced a task; zero if never
	TotalUnits  int                 `json:"total_units"`
	Description string              `json:"description,omitempty"`
	Link        string              `json:"link,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Validate enforces the template invariants checked at creation time.
func (tpl *Template) Validate() error {
	if strings.TrimSpace(tpl.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if !tpl.Frequency.Recurring() {
		return fmt.Errorf("%w: frequency %q does not recur", ErrInvalidTemplate, tpl.Frequency)
	}
	if tpl.Frequency == schedule.Weekdays && tpl.Weekdays.Empty() {
		return fmt.Errorf("%w: weekday frequency needs at least one weekday", ErrInvalidTemplate)
	}
	if !tpl.NextRun.IsValid() {
		return fmt.Errorf("%w: invalid next run date", ErrInvalidTemplate)
	}
	if tpl.TotalUnits <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, ErrInvalidTotal)
	}
	return nil
}

// Due reports whether the template should produce a task today: its next run
// is on or before today and it has not already run today. A template behind
// schedule catches up one run per day.
func (tpl *Template) Due(today civil.Date) bool {
	if tpl.NextRun.After(today) {
		return false
	}
	return !tpl.LastRun.IsValid() || tpl.LastRun.Before(today)
}

// Instantiate builds the task for the template's current run date.
func (tpl *Template) Instantiate(status string) *Task {
	return &Task{
		Name:        tpl.Name,
		Department:  tpl.Department,
		Assignees:   tpl.Assignees.Clone(),
		Status:      status,
		Deadline:    tpl.NextRun,
		TotalUnits:  tpl.TotalUnits,
		Description: tpl.Description,
		Link:        tpl.Link,
		TemplateID:  tpl.ID,
	}
}

// Store persists and retrieves tasks. Implementations must be safe for
// concurrent use.
type Store interface {
	// Create persists a new task and returns its assigned ID.
	Create(ctx context.Context, t *Task) (string, error)

	// Get retrieves a task by ID.
	Get(ctx context.Context, id string) (*Task, error)

	// Update saves changes to an existing task.
	Update(ctx context.Context, t *Task) error

	// List returns tasks matching the filter, ordered by deadline.
	List(ctx context.Context, filter Filter) ([]*Task, error)

	// Delete removes a task permanently.
	Delete(ctx context.Context, id string) error

	// ArchiveCompleted flags every unarchived task in the terminal status
	// whose deadline is strictly before the cutoff. It returns the number of
	// tasks flagged.
	ArchiveCompleted(ctx context.Context, terminal string, before civil.Date) (int, error)
}

// TemplateStore persists recurring templates.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, tpl *Template) (string, error)

	// CreateWithTemplate stores the first task of a recurring series together
	// with its template. Either both rows are written or neither is.
	CreateWithTemplate(ctx context.Context, t *Task, tpl *Template) error

	GetTemplate(ctx context.Context, id string) (*Template, error)
	ListTemplates(ctx context.Context) ([]*Template, error)

	// DueTemplates returns the templates for which Due(asOf) holds.
	DueTemplates(ctx context.Context, asOf civil.Date) ([]*Template, error)

	// UpdateNextRun moves a template's schedule without creating a task.
	UpdateNextRun(ctx context.Context, id string, next civil.Date) error

	// Materialize creates t, advances the template from prev to next and
	// records on as its last run, all as one unit. If the stored next run date
	// no longer equals prev nothing is written and ErrStaleTemplate is
	// returned.
	Materialize(ctx context.Context, templateID string, prev, next, on civil.Date, t *Task) error

	DeleteTemplate(ctx context.Context, id string) error
}

// Repository is the full persistence surface used by the lifecycle engine.
type Repository interface {
	Store
	TemplateStore
	Close() error
}

// Filter controls which tasks are returned by List.
type Filter struct {
	IncludeArchived bool        `json:"include_archived,omitempty"`
	Assignee        string      `json:"assignee,omitempty"` // exact member of the assignee set
	Department      string      `json:"department,omitempty"`
	Status          string      `json:"status,omitempty"`
	DeadlineFrom    *civil.Date `json:"deadline_from,omitempty"` // inclusive
	DeadlineTo      *civil.Date `json:"deadline_to,omitempty"`   // inclusive
	Limit           int         `json:"limit,omitempty"`
	Offset          int         `json:"offset,omitempty"`
}

// Match applies the filter to a single task. Stores use it for the parts of
// the filter that cannot be pushed into a query.
func (f Filter) Match(t *Task) bool {
	if !f.IncludeArchived && t.Archived {
		return false
	}
	if f.Assignee != "" && !t.Assignees.Contains(f.Assignee) {
		return false
	}
	if f.Department != "" && t.Department != f.Department {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.DeadlineFrom != nil && t.Deadline.Before(*f.DeadlineFrom) {
		return false
	}
	if f.DeadlineTo != nil && t.Deadline.After(*f.DeadlineTo) {
		return false
	}
	return true
}

// paginate applies Offset and Limit to an already filtered slice.
func (f Filter) paginate(tasks []*Task) []*Task {
	if f.Offset > 0 {
		if f.Offset >= len(tasks) {
			return nil
		}
		tasks = tasks[f.Offset:]
	}
	if f.Limit > 0 && len(tasks) > f.Limit {
		tasks = tasks[:f.Limit]
	}
	return tasks
}

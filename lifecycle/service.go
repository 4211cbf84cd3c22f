package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/GoCodeAlone/tally/access"
	"github.com/GoCodeAlone/tally/actor"
	"github.com/GoCodeAlone/tally/comms"
	"github.com/GoCodeAlone/tally/schedule"
	"github.com/GoCodeAlone/tally/task"
	"github.com/GoCodeAlone/tally/vocab"
)

// ErrForbidden is returned when an actor lacks the role an operation needs.
var ErrForbidden = actor.ErrForbidden

// DefaultDepartment is used when no department vocabulary is configured.
const DefaultDepartment = "General"

// NewTask describes a task to create. Frequency and Weekdays are only used by
// CreateRecurringTask.
type NewTask struct {
	Name           string              `json:"name"`
	Department     string              `json:"department"`
	Assignees      task.Assignees      `json:"assignees"`
	Status         string              `json:"status"`
	Deadline       civil.Date          `json:"deadline"`
	TotalUnits     int                 `json:"total_units"`
	CompletedUnits int                 `json:"completed_units"`
	Description    string              `json:"description,omitempty"`
	Attachment     string              `json:"attachment,omitempty"`
	Link           string              `json:"link,omitempty"`
	Frequency      schedule.Frequency  `json:"frequency,omitempty"`
	Weekdays       schedule.WeekdaySet `json:"weekdays,omitempty"`
}

// Update is a change to an existing task. Nil fields are left as they are.
// Attachment and Link replace the stored value only when non-empty.
type Update struct {
	Status         *string `json:"status,omitempty"`
	CompletedUnits *int    `json:"completed_units,omitempty"`
	Attachment     string  `json:"attachment,omitempty"`
	Link           string  `json:"link,omitempty"`
}

// Service applies task operations on behalf of an explicit actor.
type Service struct {
	repo   task.Repository
	vocab  vocab.Provider
	bus    comms.Bus
	logger *slog.Logger
}

// NewService returns a Service. bus may be nil.
func NewService(repo task.Repository, vp vocab.Provider, bus comms.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, vocab: vp, bus: bus, logger: logger}
}

// CreateTask creates a one-off task. An empty status means the initial status.
func (s *Service) CreateTask(ctx context.Context, by actor.Actor, in NewTask) (*task.Task, error) {
	t, err := s.buildTask(ctx, in)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info("task created", slog.String("task", t.ID), slog.String("by", by.ID))
	publish(ctx, s.bus, s.logger, &comms.Event{
		Type: comms.TaskCreated, From: by.ID, Audience: t.Assignees.Clone(), TaskID: t.ID, Subject: t.Name,
	})
	return t, nil
}

// CreateRecurringTask creates the first task for in.Deadline and a template
// whose next run is the following occurrence. Both are stored in one
// transaction.
func (s *Service) CreateRecurringTask(ctx context.Context, by actor.Actor, in NewTask) (*task.Task, *task.Template, error) {
	if !in.Frequency.Recurring() {
		t, err := s.CreateTask(ctx, by, in)
		return t, nil, err
	}
	tpl := &task.Template{
		Name:        in.Name,
		Department:  in.Department,
		Assignees:   in.Assignees.Clone(),
		Frequency:   in.Frequency,
		Weekdays:    in.Weekdays,
		NextRun:     schedule.NextRunDate(in.Deadline, in.Frequency, in.Weekdays),
		TotalUnits:  in.TotalUnits,
		Description: in.Description,
		Link:        in.Link,
	}
	if err := tpl.Validate(); err != nil {
		return nil, nil, err
	}
	t, err := s.buildTask(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	tpl.Department = t.Department
	if err := s.repo.CreateWithTemplate(ctx, t, tpl); err != nil {
		return nil, nil, fmt.Errorf("create recurring task: %w", err)
	}
	s.logger.Info("task created", slog.String("task", t.ID), slog.String("by", by.ID))
	publish(ctx, s.bus, s.logger, &comms.Event{
		Type: comms.TaskCreated, From: by.ID, Audience: t.Assignees.Clone(), TaskID: t.ID, Subject: t.Name,
	})
	s.logger.Info("recurring template created",
		slog.String("template", tpl.ID),
		slog.String("frequency", string(tpl.Frequency)),
		slog.String("next_run", tpl.NextRun.String()))
	publish(ctx, s.bus, s.logger, &comms.Event{
		Type: comms.TemplateCreated, From: by.ID, Audience: tpl.Assignees.Clone(), Subject: tpl.Name,
		Metadata: map[string]string{"template_id": tpl.ID, "next_run": tpl.NextRun.String()},
	})
	return t, tpl, nil
}

func (s *Service) buildTask(ctx context.Context, in NewTask) (*task.Task, error) {
	v, err := s.vocab.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}
	status := strings.TrimSpace(in.Status)
	if status == "" {
		status = v.Initial
	}
	if err := v.ValidateStatus(status, ""); err != nil {
		return nil, err
	}
	dept := strings.TrimSpace(in.Department)
	if dept == "" && len(v.Departments) == 0 {
		dept = DefaultDepartment
	}
	if err := v.ValidateDepartment(dept, ""); err != nil {
		return nil, err
	}
	t := &task.Task{
		Name:           strings.TrimSpace(in.Name),
		Department:     dept,
		Assignees:      in.Assignees.Clone(),
		Status:         status,
		Deadline:       in.Deadline,
		TotalUnits:     in.TotalUnits,
		CompletedUnits: in.CompletedUnits,
		Description:    in.Description,
		Attachment:     in.Attachment,
		Link:           in.Link,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTask returns a task the actor may see. Tasks outside the actor's view
// are reported as not found.
func (s *Service) GetTask(ctx context.Context, by actor.Actor, id string, opts access.Options) (*task.Task, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.IsVisible(t, by, opts) {
		return nil, fmt.Errorf("task %s: %w", id, task.ErrNotFound)
	}
	return t, nil
}

// UpdateTask applies u to a task visible to by. A status the task already
// holds is accepted even if it has since left the vocabulary.
func (s *Service) UpdateTask(ctx context.Context, by actor.Actor, id string, u Update) (*task.Task, error) {
	t, err := s.GetTask(ctx, by, id, access.Options{})
	if err != nil {
		return nil, err
	}
	if u.Status != nil {
		status := strings.TrimSpace(*u.Status)
		v, err := s.vocab.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("load vocabulary: %w", err)
		}
		if err := v.ValidateStatus(status, t.Status); err != nil {
			return nil, err
		}
		t.Status = status
	}
	if u.CompletedUnits != nil {
		if err := task.CheckProgress(*u.CompletedUnits, t.TotalUnits); err != nil {
			return nil, err
		}
		t.CompletedUnits = *u.CompletedUnits
	}
	if u.Attachment != "" {
		t.Attachment = u.Attachment
	}
	if u.Link != "" {
		t.Link = u.Link
	}
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	publish(ctx, s.bus, s.logger, &comms.Event{
		Type: comms.TaskUpdated, From: by.ID, Audience: t.Assignees.Clone(), TaskID: t.ID, Subject: t.Name,
		Metadata: map[string]string{"status": t.Status},
	})
	return t, nil
}

// SetProgress sets the completed unit count. Values outside [0, total] are
// rejected with task.ErrProgressOutOfRange, never clamped.
func (s *Service) SetProgress(ctx context.Context, by actor.Actor, id string, completed int) (*task.Task, error) {
	return s.UpdateTask(ctx, by, id, Update{CompletedUnits: &completed})
}

// DeleteTask permanently removes a task. Only privileged actors may delete.
func (s *Service) DeleteTask(ctx context.Context, by actor.Actor, id string) error {
	if !by.Privileged() {
		return ErrForbidden
	}
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("task deleted", slog.String("task", id), slog.String("by", by.ID))
	publish(ctx, s.bus, s.logger, &comms.Event{
		Type: comms.TaskDeleted, From: by.ID, Audience: t.Assignees.Clone(), TaskID: id, Subject: t.Name,
	})
	return nil
}

// ListVisible returns the tasks matching f that by may see.
func (s *Service) ListVisible(ctx context.Context, by actor.Actor, f task.Filter, opts access.Options) ([]*task.Task, error) {
	tasks, err := s.repo.List(ctx, access.Scope(f, by, opts))
	if err != nil {
		return nil, err
	}
	return access.Filter(tasks, by, opts), nil
}

// ListTemplates returns all templates for privileged actors and the templates
// assigned to by otherwise.
func (s *Service) ListTemplates(ctx context.Context, by actor.Actor) ([]*task.Template, error) {
	all, err := s.repo.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	if by.Privileged() {
		return all, nil
	}
	out := make([]*task.Template, 0, len(all))
	for _, tpl := range all {
		if tpl.Assignees.Contains(by.ID) {
			out = append(out, tpl)
		}
	}
	return out, nil
}

// DeleteTemplate stops a recurrence. Tasks it already produced are kept.
func (s *Service) DeleteTemplate(ctx context.Context, by actor.Actor, id string) error {
	if !by.Privileged() {
		return ErrForbidden
	}
	if err := s.repo.DeleteTemplate(ctx, id); err != nil {
		return err
	}
	s.logger.Info("template deleted", slog.String("template", id), slog.String("by", by.ID))
	return nil
}

// IsValidation reports whether err was caused by bad input rather than by
// the store.
func IsValidation(err error) bool {
	return errors.Is(err, task.ErrProgressOutOfRange) ||
		errors.Is(err, task.ErrInvalidTotal) ||
		errors.Is(err, task.ErrInvalidTemplate) ||
		errors.Is(err, task.ErrInvalidTask) ||
		errors.Is(err, vocab.ErrUnknownValue)
}

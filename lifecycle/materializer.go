// Package lifecycle turns due recurring templates into tasks, archives stale
// completed work, and applies task mutations on behalf of an actor.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/civil"

	"github.com/GoCodeAlone/tally/comms"
	"github.com/GoCodeAlone/tally/schedule"
	"github.com/GoCodeAlone/tally/task"
	"github.com/GoCodeAlone/tally/vocab"
)

// Materializer creates the task for every due recurring template.
type Materializer struct {
	templates task.TemplateStore
	vocab     vocab.Provider
	bus       comms.Bus
	logger    *slog.Logger
}

// NewMaterializer returns a Materializer. bus may be nil.
func NewMaterializer(templates task.TemplateStore, vp vocab.Provider, bus comms.Bus, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{templates: templates, vocab: vp, bus: bus, logger: logger}
}

// MaterializeDueTemplates creates one task for each template due on today and
// advances its schedule. Each template is its own unit of work: a template
// that another caller already advanced is skipped, and a store failure stops
// the run with the count created so far.
func (m *Materializer) MaterializeDueTemplates(ctx context.Context, today civil.Date) (int, error) {
	due, err := m.templates.DueTemplates(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("select due templates: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}
	v, err := m.vocab.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("load vocabulary: %w", err)
	}

	created := 0
	for _, tpl := range due {
		if tpl.Frequency == schedule.Weekdays && tpl.Weekdays.Empty() {
			m.logger.Warn("weekday template has no weekdays, advancing one day",
				slog.String("template", tpl.ID), slog.String("name", tpl.Name))
		}
		next := schedule.NextRunDate(tpl.NextRun, tpl.Frequency, tpl.Weekdays)
		t := tpl.Instantiate(v.Initial)

		err := m.templates.Materialize(ctx, tpl.ID, tpl.NextRun, next, today, t)
		if errors.Is(err, task.ErrStaleTemplate) {
			m.logger.Debug("template already materialized", slog.String("template", tpl.ID))
			continue
		}
		if err != nil {
			return created, fmt.Errorf("materialize template %s: %w", tpl.ID, err)
		}
		created++
		m.logger.Info("materialized recurring task",
			slog.String("template", tpl.ID),
			slog.String("task", t.ID),
			slog.String("deadline", t.Deadline.String()),
			slog.String("next_run", next.String()))
		publish(ctx, m.bus, m.logger, &comms.Event{
			Type:     comms.TaskMaterialized,
			Audience: t.Assignees.Clone(),
			TaskID:   t.ID,
			Subject:  t.Name,
			Metadata: map[string]string{"template_id": tpl.ID, "next_run": next.String()},
		})
	}
	return created, nil
}

// publish sends e when a bus is configured. Delivery failures are logged and
// never fail the operation that produced the event.
func publish(ctx context.Context, bus comms.Bus, logger *slog.Logger, e *comms.Event) {
	if bus == nil {
		return
	}
	if err := bus.Publish(ctx, e); err != nil {
		logger.Warn("publish event", slog.String("type", string(e.Type)), slog.Any("err", err))
	}
}

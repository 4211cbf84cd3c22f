package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"cloud.google.com/go/civil"

	"github.com/GoCodeAlone/tally/comms"
	"github.com/GoCodeAlone/tally/task"
	"github.com/GoCodeAlone/tally/vocab"
)

// DefaultArchiveAfterDays is the default age, in days past the deadline, at
// which completed tasks are archived.
const DefaultArchiveAfterDays = 30

// Archiver flags old completed tasks as archived.
type Archiver struct {
	tasks  task.Store
	vocab  vocab.Provider
	bus    comms.Bus
	logger *slog.Logger
}

// NewArchiver returns an Archiver. bus may be nil.
func NewArchiver(tasks task.Store, vp vocab.Provider, bus comms.Bus, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{tasks: tasks, vocab: vp, bus: bus, logger: logger}
}

// ArchiveStaleCompleted archives every task in the terminal status whose
// deadline is more than cutoffDays before today. Nothing is deleted and
// tasks in any other status are left alone.
func (a *Archiver) ArchiveStaleCompleted(ctx context.Context, today civil.Date, cutoffDays int) (int, error) {
	if cutoffDays < 0 {
		return 0, fmt.Errorf("archive cutoff must not be negative, got %d", cutoffDays)
	}
	v, err := a.vocab.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("load vocabulary: %w", err)
	}
	if v.Terminal == "" {
		return 0, nil
	}
	before := today.AddDays(-cutoffDays)
	n, err := a.tasks.ArchiveCompleted(ctx, v.Terminal, before)
	if err != nil {
		return 0, fmt.Errorf("archive completed tasks: %w", err)
	}
	if n > 0 {
		a.logger.Info("archived completed tasks",
			slog.Int("count", n), slog.String("deadline_before", before.String()))
		publish(ctx, a.bus, a.logger, &comms.Event{
			Type:     comms.TasksArchived,
			Subject:  "archived " + strconv.Itoa(n) + " completed task(s)",
			Count:    n,
			Metadata: map[string]string{"deadline_before": before.String()},
		})
	}
	return n, nil
}

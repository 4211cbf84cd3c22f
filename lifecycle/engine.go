package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"

	"github.com/GoCodeAlone/tally/schedule"
)

// RunResult summarizes one lifecycle pass.
type RunResult struct {
	Today        civil.Date `json:"today"`
	Materialized int        `json:"materialized"`
	Archived     int        `json:"archived"`
}

// Engine runs the materializer and then the archival sweep. It has no timer;
// callers invoke Run whenever the system is accessed, and repeated runs on the
// same day are harmless.
type Engine struct {
	materializer *Materializer
	archiver     *Archiver
	cutoffDays   int
	loc          *time.Location
	now          func() time.Time
	logger       *slog.Logger
}

// NewEngine returns an Engine that computes "today" in loc.
func NewEngine(m *Materializer, a *Archiver, cutoffDays int, loc *time.Location, logger *slog.Logger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		materializer: m,
		archiver:     a,
		cutoffDays:   cutoffDays,
		loc:          loc,
		now:          time.Now,
		logger:       logger,
	}
}

// SetClock replaces the wall clock.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Today returns the current calendar date in the engine's time zone.
func (e *Engine) Today() civil.Date { return schedule.Today(e.now(), e.loc) }

// Run performs one pass for the current date.
func (e *Engine) Run(ctx context.Context) (RunResult, error) {
	return e.RunAt(ctx, e.Today())
}

// RunAt performs one pass as if today were the given date.
func (e *Engine) RunAt(ctx context.Context, today civil.Date) (RunResult, error) {
	res := RunResult{Today: today}
	n, err := e.materializer.MaterializeDueTemplates(ctx, today)
	res.Materialized = n
	if err != nil {
		return res, err
	}
	if res.Archived, err = e.archiver.ArchiveStaleCompleted(ctx, today, e.cutoffDays); err != nil {
		return res, err
	}
	if res.Materialized > 0 || res.Archived > 0 {
		e.logger.Info("lifecycle run",
			slog.String("today", today.String()),
			slog.Int("materialized", res.Materialized),
			slog.Int("archived", res.Archived))
	}
	return res, nil
}

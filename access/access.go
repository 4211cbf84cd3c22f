// Package access decides which tasks an actor may see.
package access

import (
	"github.com/GoCodeAlone/tally/actor"
	"github.com/GoCodeAlone/tally/task"
)

// Options adjusts visibility for a single query.
type Options struct {
	// IncludeArchived shows archived tasks to privileged actors. Regular
	// actors never see archived tasks.
	IncludeArchived bool
}

// IsVisible reports whether a may see t.
func IsVisible(t *task.Task, a actor.Actor, opts Options) bool {
	if t == nil {
		return false
	}
	if a.Privileged() {
		return !t.Archived || opts.IncludeArchived
	}
	if t.Archived || a.ID == "" {
		return false
	}
	return t.Assignees.Contains(a.ID)
}

// Filter returns the tasks visible to a, preserving order. The input slice is
// not modified.
func Filter(tasks []*task.Task, a actor.Actor, opts Options) []*task.Task {
	out := make([]*task.Task, 0, len(tasks))
	for _, t := range tasks {
		if IsVisible(t, a, opts) {
			out = append(out, t)
		}
	}
	return out
}

// Scope narrows f so a store query returns only what a may see. Results must
// still pass through Filter.
func Scope(f task.Filter, a actor.Actor, opts Options) task.Filter {
	if a.Privileged() {
		f.IncludeArchived = opts.IncludeArchived
		return f
	}
	f.IncludeArchived = false
	f.Assignee = a.ID
	return f
}

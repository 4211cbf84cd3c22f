// Package report aggregates task metrics and breakdowns. Callers pass tasks
// that have already been filtered for the requesting actor.
package report

import (
	"cmp"
	"slices"

	"cloud.google.com/go/civil"

	"github.com/GoCodeAlone/tally/task"
)

// Summary holds the headline counters.
type Summary struct {
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
	Overdue   int `json:"overdue"`
	// Progress is the completed share of all units, 0..100.
	Progress int `json:"progress"`
}

// Summarize counts tasks by completion state as of today.
func Summarize(tasks []*task.Task, today civil.Date, terminal string) Summary {
	var s Summary
	var done, total int
	for _, t := range tasks {
		s.Active++
		if t.Status == terminal {
			s.Completed++
		} else {
			s.Pending++
		}
		if t.IsOverdue(today, terminal) {
			s.Overdue++
		}
		done += t.CompletedUnits
		total += t.TotalUnits
	}
	if total > 0 {
		s.Progress = done * 100 / total
	}
	return s
}

// Bucket is one row of a breakdown.
type Bucket struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// ByDepartment counts tasks per department.
func ByDepartment(tasks []*task.Task) []Bucket {
	return count(tasks, func(t *task.Task) []string { return []string{t.Department} })
}

// ByStatus counts tasks per status.
func ByStatus(tasks []*task.Task) []Bucket {
	return count(tasks, func(t *task.Task) []string { return []string{t.Status} })
}

// ByAssignee counts tasks per assignee. A task with several assignees counts
// once for each of them; unassigned tasks are not counted.
func ByAssignee(tasks []*task.Task) []Bucket {
	return count(tasks, func(t *task.Task) []string { return t.Assignees })
}

// count buckets tasks by key, ordered by descending count then key.
func count(tasks []*task.Task, keys func(*task.Task) []string) []Bucket {
	idx := map[string]int{}
	out := []Bucket{}
	for _, t := range tasks {
		for _, k := range keys(t) {
			i, ok := idx[k]
			if !ok {
				i = len(out)
				idx[k] = i
				out = append(out, Bucket{Key: k})
			}
			out[i].Count++
		}
	}
	slices.SortStableFunc(out, func(a, b Bucket) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}

// Group is the tasks of one department.
type Group struct {
	Department string       `json:"department"`
	Tasks      []*task.Task `json:"tasks"`
}

// GroupByDepartment groups tasks by department in first-seen order, keeping
// the input order inside each group.
func GroupByDepartment(tasks []*task.Task) []Group {
	idx := map[string]int{}
	out := []Group{}
	for _, t := range tasks {
		i, ok := idx[t.Department]
		if !ok {
			i = len(out)
			idx[t.Department] = i
			out = append(out, Group{Department: t.Department})
		}
		out[i].Tasks = append(out[i].Tasks, t)
	}
	return out
}

// Dashboard bundles the summary and all breakdowns.
type Dashboard struct {
	Today        civil.Date `json:"today"`
	Summary      Summary    `json:"summary"`
	ByDepartment []Bucket   `json:"by_department"`
	ByStatus     []Bucket   `json:"by_status"`
	ByAssignee   []Bucket   `json:"by_assignee"`
}

// Build computes a Dashboard.
func Build(tasks []*task.Task, today civil.Date, terminal string) Dashboard {
	return Dashboard{
		Today:        today,
		Summary:      Summarize(tasks, today, terminal),
		ByDepartment: ByDepartment(tasks),
		ByStatus:     ByStatus(tasks),
		ByAssignee:   ByAssignee(tasks),
	}
}

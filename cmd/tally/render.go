package main

import (
	"fmt"
	"io"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/GoCodeAlone/tally/report"
	"github.com/GoCodeAlone/tally/schedule"
	"github.com/GoCodeAlone/tally/task"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	overdueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#73F59F"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C"))
)

// newTable returns a bordered table whose header row uses headerStyle.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

// frequencyLabel renders a frequency for display: "weekly" becomes "Weekly",
// weekday templates list their days.
func frequencyLabel(f schedule.Frequency, days schedule.WeekdaySet) string {
	if f == schedule.Weekdays {
		return "Weekdays: " + days.String()
	}
	return cases.Title(language.English).String(string(f))
}

// renderTasks writes tasks as a table. Overdue deadlines are highlighted
// relative to today; tasks in the terminal status are shown as done.
func renderTasks(w io.Writer, tasks []*task.Task, today civil.Date, terminal string) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "no tasks")
		return
	}
	t := newTable("ID", "NAME", "DEPARTMENT", "ASSIGNEES", "STATUS", "DEADLINE", "PROGRESS")
	for _, tk := range tasks {
		deadline := tk.Deadline.String()
		status := tk.Status
		switch {
		case tk.IsOverdue(today, terminal):
			deadline = overdueStyle.Render(deadline)
		case tk.Status == terminal:
			status = doneStyle.Render(status)
		}
		t.Row(
			tk.ID,
			truncate(tk.Name, 30),
			tk.Department,
			tk.Assignees.String(),
			status,
			deadline,
			fmt.Sprintf("%d/%d", tk.CompletedUnits, tk.TotalUnits),
		)
	}
	fmt.Fprintln(w, t)
}

func renderTemplates(w io.Writer, tpls []*task.Template) {
	if len(tpls) == 0 {
		fmt.Fprintln(w, "no templates")
		return
	}
	t := newTable("ID", "NAME", "ASSIGNEES", "FREQUENCY", "NEXT RUN", "LAST RUN")
	for _, tpl := range tpls {
		last := "-"
		if tpl.LastRun.IsValid() {
			last = tpl.LastRun.String()
		}
		t.Row(tpl.ID, truncate(tpl.Name, 30), tpl.Assignees.String(),
			frequencyLabel(tpl.Frequency, tpl.Weekdays), tpl.NextRun.String(), last)
	}
	fmt.Fprintln(w, t)
}

func renderDashboard(w io.Writer, d report.Dashboard) {
	s := d.Summary
	fmt.Fprintln(w, headerStyle.Render("Summary as of "+d.Today.String()))
	fmt.Fprintf(w, "  active: %d  completed: %d  pending: %d  overdue: %s  progress: %d%%\n",
		s.Active, s.Completed, s.Pending, overdueCount(s.Overdue), s.Progress)
	for _, section := range []struct {
		title   string
		buckets []report.Bucket
	}{
		{"By department", d.ByDepartment},
		{"By status", d.ByStatus},
		{"By assignee", d.ByAssignee},
	} {
		if len(section.buckets) == 0 {
			continue
		}
		t := newTable(section.title, "COUNT")
		for _, b := range section.buckets {
			t.Row(b.Key, strconv.Itoa(b.Count))
		}
		fmt.Fprintln(w, t)
	}
}

func overdueCount(n int) string {
	if n == 0 {
		return "0"
	}
	return overdueStyle.Render(strconv.Itoa(n))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

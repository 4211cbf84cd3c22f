package main

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/tally/lifecycle"
	"github.com/GoCodeAlone/tally/report"
	"github.com/GoCodeAlone/tally/task"
	"github.com/GoCodeAlone/tally/vocab"
)

// terminalStatus asks the server which status counts as done.
func (c *Client) terminalStatus() (string, error) {
	var v vocab.Vocabulary
	if err := c.get("/api/vocabulary", &v); err != nil {
		return "", err
	}
	return v.Terminal, nil
}

func tasksCmd(c *Client) *cobra.Command {
	var (
		assignee, department, status string
		from, to                     string
		archived                     bool
		limit                        int
	)
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks visible to you",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			for k, v := range map[string]string{
				"assignee": assignee, "department": department, "status": status, "from": from, "to": to,
			} {
				if v != "" {
					q.Set(k, v)
				}
			}
			if archived {
				q.Set("archived", "true")
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := "/api/tasks"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var tasks []*task.Task
			if err := c.get(path, &tasks); err != nil {
				return err
			}
			terminal, err := c.terminalStatus()
			if err != nil {
				return err
			}
			renderTasks(cmd.OutOrStdout(), tasks, civil.DateOf(time.Now()), terminal)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&assignee, "assignee", "", "only tasks assigned to this user")
	f.StringVar(&department, "department", "", "only tasks in this department")
	f.StringVar(&status, "status", "", "only tasks with this status")
	f.StringVar(&from, "from", "", "earliest deadline (YYYY-MM-DD)")
	f.StringVar(&to, "to", "", "latest deadline (YYYY-MM-DD)")
	f.BoolVar(&archived, "archived", false, "include archived tasks (managers only)")
	f.IntVar(&limit, "limit", 0, "maximum number of tasks")
	return cmd
}

func taskCmd(c *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, update or delete a task",
	}
	cmd.AddCommand(taskCreateCmd(c), taskUpdateCmd(c), taskDeleteCmd(c))
	return cmd
}

func taskCreateCmd(c *Client) *cobra.Command {
	var (
		department, assignees, status string
		deadline, description, link   string
		frequency, weekdays           string
		units                         int
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a task, recurring when --frequency is set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"name":        args[0],
				"department":  department,
				"assignees":   assignees,
				"status":      status,
				"deadline":    deadline,
				"total_units": units,
				"description": description,
				"link":        link,
				"frequency":   frequency,
			}
			if weekdays != "" {
				body["weekdays"] = weekdays
			}
			var resp struct {
				Task     *task.Task     `json:"task"`
				Template *task.Template `json:"template"`
			}
			if err := c.post("/api/tasks", body, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "created task %s\n", resp.Task.ID)
			if resp.Template != nil {
				fmt.Fprintf(out, "repeats %s, next run %s\n",
					frequencyLabel(resp.Template.Frequency, resp.Template.Weekdays), resp.Template.NextRun)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&department, "department", "d", "", "department")
	f.StringVarP(&assignees, "assignees", "a", "", `comma separated assignees, e.g. "alice, bob"`)
	f.StringVarP(&status, "status", "s", "", "initial status (default: first status)")
	f.StringVar(&deadline, "deadline", civil.DateOf(time.Now()).String(), "deadline (YYYY-MM-DD)")
	f.IntVarP(&units, "units", "u", 1, "total units of work")
	f.StringVar(&description, "description", "", "description")
	f.StringVar(&link, "link", "", "reference link")
	f.StringVarP(&frequency, "frequency", "f", "", "daily, weekly, monthly or weekdays")
	f.StringVar(&weekdays, "weekdays", "", `weekdays for --frequency weekdays, e.g. "Mon,Wed"`)
	return cmd
}

func taskUpdateCmd(c *Client) *cobra.Command {
	var (
		status, attachment, link string
		done                     int
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update status, progress, attachment or link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u := lifecycle.Update{Attachment: attachment, Link: link}
			if cmd.Flags().Changed("status") {
				u.Status = &status
			}
			if cmd.Flags().Changed("done") {
				u.CompletedUnits = &done
			}
			var t task.Task
			if err := c.patch("/api/tasks/"+url.PathEscape(args[0]), u, &t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, %d/%d\n", t.Name, t.Status, t.CompletedUnits, t.TotalUnits)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&status, "status", "s", "", "new status")
	f.IntVar(&done, "done", 0, "completed units")
	f.StringVar(&attachment, "attachment", "", "attachment reference")
	f.StringVar(&link, "link", "", "reference link")
	return cmd
}

func taskDeleteCmd(c *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task (managers only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.delete("/api/tasks/" + url.PathEscape(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted task %s\n", args[0])
			return nil
		},
	}
}

func templatesCmd(c *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"template"},
		Short:   "List recurring templates",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var tpls []*task.Template
			if err := c.get("/api/templates", &tpls); err != nil {
				return err
			}
			renderTemplates(cmd.OutOrStdout(), tpls)
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Stop a recurrence (managers only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.delete("/api/templates/" + url.PathEscape(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted template %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func metricsCmd(c *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show the task dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var d report.Dashboard
			if err := c.get("/api/metrics", &d); err != nil {
				return err
			}
			renderDashboard(cmd.OutOrStdout(), d)
			return nil
		},
	}
}

func runCmd(c *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Materialize due templates and archive stale tasks now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var res lifecycle.RunResult
			if err := c.post("/api/lifecycle/run", nil, &res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: materialized %d, archived %d\n",
				res.Today, res.Materialized, res.Archived)
			return nil
		},
	}
}

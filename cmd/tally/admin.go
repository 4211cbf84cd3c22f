package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/tally/actor"
	"github.com/GoCodeAlone/tally/vocab"
)

func vocabCmd(c *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vocab",
		Short: "Manage departments and statuses",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List departments and statuses",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var v vocab.Vocabulary
				if err := c.get("/api/vocabulary", &v); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "departments: %s\n", strings.Join(v.Departments, ", "))
				fmt.Fprintf(out, "statuses:    %s\n", strings.Join(v.Statuses, ", "))
				fmt.Fprintf(out, "initial: %s  terminal: %s\n", v.Initial, v.Terminal)
				return nil
			},
		},
		&cobra.Command{
			Use:   "add <department|status> <name>",
			Short: "Add a value",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				var resp struct {
					Added bool `json:"added"`
				}
				path := "/api/vocabulary/" + url.PathEscape(args[0])
				if err := c.post(path, map[string]string{"name": args[1]}, &resp); err != nil {
					return err
				}
				if !resp.Added {
					return fmt.Errorf("%s %q already exists", args[0], args[1])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s %q\n", args[0], args[1])
				return nil
			},
		},
		&cobra.Command{
			Use:     "rm <department|status> <name>",
			Aliases: []string{"remove"},
			Short:   "Remove a value; existing tasks keep it",
			Args:    cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				var resp struct {
					Removed bool `json:"removed"`
				}
				path := "/api/vocabulary/" + url.PathEscape(args[0]) + "/" + url.PathEscape(args[1])
				if err := c.do(http.MethodDelete, path, nil, &resp); err != nil {
					return err
				}
				if !resp.Removed {
					return fmt.Errorf("%s %q not found", args[0], args[1])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s %q\n", args[0], args[1])
				return nil
			},
		},
	)
	return cmd
}

func usersCmd(c *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List and manage users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var users []*actor.User
			if err := c.get("/api/users", &users); err != nil {
				return err
			}
			t := newTable("USERNAME", "ROLE", "LAST ACTIVE")
			for _, u := range users {
				last := "-"
				if u.LastActive != nil {
					last = u.LastActive.Local().Format("2006-01-02 15:04")
				}
				t.Row(u.Username, string(u.Role), last)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t)
			return nil
		},
	}

	var password, role string
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user (managers only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Created bool `json:"created"`
			}
			body := map[string]string{"username": args[0], "password": password, "role": role}
			if err := c.post("/api/users", body, &resp); err != nil {
				return err
			}
			if !resp.Created {
				return fmt.Errorf("user %q already exists", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", args[0])
			return nil
		},
	}
	add.Flags().StringVarP(&password, "password", "p", "", "initial password")
	add.Flags().StringVarP(&role, "role", "r", "employee", "manager or employee")

	cmd.AddCommand(
		add,
		&cobra.Command{
			Use:   "rm <username>",
			Short: "Remove a user (managers only)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := c.delete("/api/users/" + url.PathEscape(args[0])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "online",
			Short: "List users active recently",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var names []string
				if err := c.get("/api/users/online", &names); err != nil {
					return err
				}
				if len(names) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "nobody else is online")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(names, "\n"))
				return nil
			},
		},
	)
	return cmd
}

// Command tally is the tally CLI client.
package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/tally/internal/version"
)

const defaultServer = "http://localhost:9090"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. The client is configured from the
// persistent flags before any subcommand runs.
func newRootCmd() *cobra.Command {
	cli := &Client{HTTPClient: &http.Client{Timeout: 15 * time.Second}}
	var serverURL string

	root := &cobra.Command{
		Use:           "tally",
		Short:         "tally - task tracking with recurring schedules",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			cli.BaseURL = strings.TrimRight(serverURL, "/")
		},
	}
	root.PersistentFlags().StringVar(&serverURL, "server", envOr("TALLY_SERVER", defaultServer), "tally server URL")
	root.PersistentFlags().StringVar(&cli.Token, "token", os.Getenv("TALLY_TOKEN"), "JWT auth token (or $TALLY_TOKEN)")

	root.AddCommand(
		versionCmd(),
		statusCmd(cli),
		loginCmd(cli),
		registerCmd(cli),
		tasksCmd(cli),
		taskCmd(cli),
		templatesCmd(cli),
		metricsCmd(cli),
		runCmd(cli),
		vocabCmd(cli),
		usersCmd(cli),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tally %s\n", version.String())
		},
	}
}

func statusCmd(c *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var result struct {
				Status  string `json:"status"`
				Version string `json:"version"`
				Uptime  int64  `json:"uptime_seconds"`
			}
			if err := c.get("/api/status", &result); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status:  %s\n", result.Status)
			fmt.Fprintf(out, "version: %s\n", result.Version)
			fmt.Fprintf(out, "uptime:  %s\n", time.Duration(result.Uptime)*time.Second)
			return nil
		},
	}
}

func loginCmd(c *Client) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Log in and print an auth token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Token string `json:"token"`
				User  struct {
					Role string `json:"role"`
				} `json:"user"`
			}
			body := map[string]string{"username": args[0], "password": password}
			if err := c.post("/api/auth/login", body, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "logged in as %s (%s)\n", args[0], resp.User.Role)
			fmt.Fprintf(cmd.OutOrStdout(), "export TALLY_TOKEN=%s\n", resp.Token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", os.Getenv("TALLY_PASSWORD"), "password (or $TALLY_PASSWORD)")
	return cmd
}

func registerCmd(c *Client) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "register <username>",
		Short: "Create an employee account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"username": args[0], "password": password}
			if err := c.post("/api/auth/register", body, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", os.Getenv("TALLY_PASSWORD"), "password (or $TALLY_PASSWORD)")
	return cmd
}

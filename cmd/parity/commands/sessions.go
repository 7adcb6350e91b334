package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newSessionsCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Session management",
		Long: `Create, list and cancel sessions.

At most sessions.max_sessions sessions are retained; creating one more
evicts the oldest together with the progress of its executions.`,
	}

	cmd.AddCommand(newSessionsListCommand(version))
	cmd.AddCommand(newSessionsCreateCommand(version))
	cmd.AddCommand(newSessionsCancelCommand(version))

	return cmd
}

func newSessionsListCommand(version string) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Example: `  # List sessions of the local data directory
  parity sessions list

  # List sessions of a running server
  parity sessions list --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, release, err := openBackend(cmd, server, version)
			if err != nil {
				return err
			}
			defer release()

			list, err := b.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, list)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tOWNER\tSTATUS\tEXECUTIONS\tCREATED")
			for _, s := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					s.ID, s.Owner, s.Status, len(s.Executions), s.CreatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}

	addServerFlag(cmd, &server)
	return cmd
}

func newSessionsCreateCommand(version string) *cobra.Command {
	var (
		server string
		owner  string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, release, err := openBackend(cmd, server, version)
			if err != nil {
				return err
			}
			defer release()

			sess, err := b.CreateSession(cmd.Context(), owner)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), sess)
			}
			fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
			return nil
		},
	}

	addServerFlag(cmd, &server)
	cmd.Flags().StringVar(&owner, "owner", "cli", "session owner")
	return cmd
}

func newSessionsCancelCommand(version string) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "cancel <session>",
		Short: "Cancel the active run of a session",
		Long: `Cancel the active run of a session.

The execution in flight stops at its next step boundary and the remaining
work items are skipped. Cancelling only reaches runs of the same process,
so pass --server to cancel a run scheduled on a server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, release, err := openBackend(cmd, server, version)
			if err != nil {
				return err
			}
			defer release()

			info, err := b.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), info)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task %s %s\n", info.ID, info.State)
			return nil
		},
	}

	addServerFlag(cmd, &server)
	return cmd
}

package commands

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/parity/pkg/engine"
)

func newProgressCommand(version string) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "progress <session>",
		Short: "Show per-step progress of a session",
		Long: `Show the status counts of a session and the state of every step of
each of its executions: succeed, failed, can_not_proceed or pending.`,
		Example: `  parity progress sess_20250101_120000_abc123
  parity progress sess_20250101_120000_abc123 --server http://localhost:8080 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, release, err := openBackend(cmd, server, version)
			if err != nil {
				return err
			}
			defer release()

			ctx := cmd.Context()
			status, err := b.Status(ctx, args[0])
			if err != nil {
				return err
			}
			progress, err := b.Progress(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, map[string]any{"status": status, "progress": progress})
			}

			fmt.Fprintf(out, "Session %s (%s): %d executions\n", status.SessionID, status.SessionStatus, status.Total)
			counts := make([]string, 0, len(status.Counts))
			for st, n := range status.Counts {
				counts = append(counts, fmt.Sprintf("%s=%d", st, n))
			}
			sort.Strings(counts)
			if len(counts) > 0 {
				fmt.Fprintf(out, "  %s\n", strings.Join(counts, " "))
			}
			fmt.Fprintln(out)

			ids := make([]string, 0, len(progress.Executions))
			for id := range progress.Executions {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			tw := tabwriter.NewWriter(out, 0, 4, 1, ' ', 0)
			fmt.Fprintf(tw, "EXECUTION\t%s\n", strings.Join(engine.StepNames(), "\t"))
			for _, id := range ids {
				row := make([]string, 0, len(engine.Steps()))
				for _, step := range engine.Steps() {
					state := progress.Executions[id][step.String()]
					if state == "" {
						state = engine.StepStatePending
					}
					row = append(row, string(state))
				}
				fmt.Fprintf(tw, "%s\t%s\n", id, strings.Join(row, "\t"))
			}
			return tw.Flush()
		},
	}

	addServerFlag(cmd, &server)
	return cmd
}

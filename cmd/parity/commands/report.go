package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/parity/pkg/report"
)

func newReportCommand(version string) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "report <session>",
		Short: "Print the report of a session",
		Long: `Print the report of a session: per-execution verdicts, step breakdowns,
critical issues, recommendations and gate policy results.`,
		Example: `  parity report sess_20250101_120000_abc123
  parity report sess_20250101_120000_abc123 --json > report.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, release, err := openBackend(cmd, server, version)
			if err != nil {
				return err
			}
			defer release()

			rep, err := b.SessionReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), rep)
			}
			printSessionReport(cmd.OutOrStdout(), rep)
			return nil
		},
	}

	addServerFlag(cmd, &server)
	return cmd
}

func printSessionReport(w io.Writer, r *report.SessionReport) {
	fmt.Fprintf(w, "Session %s (%s) owner=%s\n", r.SessionID, r.SessionStatus, r.Owner)
	fmt.Fprintf(w, "Overall: %s\n%s\n", strings.ToUpper(string(r.OverallStatus)), r.Summary)
	fmt.Fprintf(w, "Executions: %d total, %d completed, %d failed, %d pending\n\n",
		r.Total, r.Completed, r.Failed, r.Pending)

	for _, e := range r.Executions {
		item := e.WorkItem
		fmt.Fprintf(w, "%s  %s/%s/%s -> %s  [%s]\n",
			e.ExecutionID, item.Category, item.Product, item.Plan, item.TargetEnvironment, e.OverallStatus)
		fmt.Fprintf(w, "  %s\n", e.ExecutiveSummary)
		for _, b := range e.Steps {
			fmt.Fprintf(w, "    %-24s %-16s critical=%d warning=%d info=%d\n",
				b.Step, b.State, b.Critical, b.Warning, b.Info)
			if b.Error != "" {
				fmt.Fprintf(w, "      %s\n", b.Error)
			}
			for _, issue := range b.Issues {
				fmt.Fprintf(w, "      %s\n", issue)
			}
		}
		if e.Policy != nil {
			for _, v := range e.Policy.Violations {
				fmt.Fprintf(w, "  policy %s: %s\n", v.Policy, v.Message)
			}
			for _, v := range e.Policy.Warnings {
				fmt.Fprintf(w, "  policy warning %s: %s\n", v.Policy, v.Message)
			}
		}
		for _, rec := range e.Recommendations {
			fmt.Fprintf(w, "  - %s\n", rec)
		}
		fmt.Fprintln(w)
	}
}

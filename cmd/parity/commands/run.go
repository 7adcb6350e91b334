package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/parity/pkg/engine"
	"github.com/openfroyo/parity/pkg/report"
	"github.com/openfroyo/parity/pkg/tui"
)

// errRunFailed is returned when a run finished with failing executions or a
// failing report, so scripts can gate on the exit code.
var errRunFailed = errors.New("run finished with failures")

func newRunCommand(version string) *cobra.Command {
	var (
		owner      string
		sessionID  string
		categories []string
		target     string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every combination in-process and report",
		Long: `Run the comparison in-process without a server.

A new session is created unless --session names an existing one. Every
combination of the selected categories is driven through the step sequence
in the target environment and in staging, then the session report is printed.
The command exits non-zero when the report is failed.`,
		Example: `  # Run every category against DEV
  parity run

  # Run one category against SIT and watch progress
  parity run --category MV4 --target SIT --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, settings, version)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(context.Background()); err != nil {
					log.Warn().Err(err).Msg("Shutdown finished with errors")
				}
			}()

			if sessionID == "" {
				sess, err := a.sessions.Create(ctx, owner)
				if err != nil {
					return err
				}
				sessionID = sess.ID
			}

			info, err := a.service.Start(ctx, engine.StartRequest{
				SessionID:         sessionID,
				Categories:        categories,
				TargetEnvironment: target,
			})
			if err != nil {
				return err
			}
			log.Info().
				Str("session_id", sessionID).
				Str("task_id", info.ID).
				Int("work_items", info.WorkItems).
				Msg("Run scheduled")

			if watch {
				if _, err := tui.Run(ctx, a.service, sessionID, tui.DefaultInterval); err != nil {
					return err
				}
			}

			summary, err := a.service.Wait(ctx, info.ID)
			if err != nil {
				if ctx.Err() != nil {
					_, _ = a.service.Cancel(context.Background(), sessionID)
				}
				return err
			}

			sess, err := a.sessions.Get(ctx, sessionID)
			if err != nil {
				return err
			}
			execs, err := a.service.Executions(ctx, sessionID)
			if err != nil {
				return err
			}
			rep, err := a.reports.Session(ctx, sess, execs)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				if err := printJSON(out, map[string]any{"summary": summary, "report": rep}); err != nil {
					return err
				}
			} else {
				printRunSummary(out, summary, rep)
			}

			if rep.OverallStatus == report.StatusFailed {
				return errRunFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "cli", "owner of the new session")
	cmd.Flags().StringVar(&sessionID, "session", "", "run in an existing session")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "categories to run (default: all)")
	cmd.Flags().StringVarP(&target, "target", "t", "", "target environment (overrides engine.target_environment)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "watch progress in a terminal UI")

	return cmd
}

func printRunSummary(w io.Writer, s *engine.MasterSummary, rep *report.SessionReport) {
	fmt.Fprintf(w, "Session %s\n", s.SessionID)
	fmt.Fprintf(w, "  work items: %d  successful: %d  failed: %d  skipped: %d\n",
		s.Total, s.Successful, s.Failed, s.Skipped)
	if s.Cancelled {
		fmt.Fprintln(w, "  run was cancelled")
	}
	for _, item := range s.Items {
		fmt.Fprintf(w, "  %-40s %-24s critical=%d warning=%d info=%d\n",
			item.WorkItem.Category+"/"+item.WorkItem.Product+"/"+item.WorkItem.Plan,
			item.Status, item.Summary.Critical, item.Summary.Warning, item.Summary.Info)
	}
	fmt.Fprintf(w, "\n%s: %s\n", rep.OverallStatus, rep.Summary)
}

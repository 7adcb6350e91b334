package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/parity/pkg/api"
	"github.com/openfroyo/parity/pkg/tui"
)

func newWatchCommand() *cobra.Command {
	var (
		server   string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <session>",
		Short: "Watch a session's progress in a terminal UI",
		Long: `Poll a parity server and render the per-step state of every execution
of a session until its run ends.`,
		Example: `  parity watch sess_20250101_120000_abc123 --server http://localhost:8080`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				return fmt.Errorf("--server is required; use 'parity run --watch' for in-process runs")
			}

			w, err := tui.Run(cmd.Context(), api.NewClient(server), args[0], interval)
			if err != nil {
				return err
			}
			if err := w.Err(); err != nil && !w.Done() {
				return err
			}
			return nil
		},
	}

	addServerFlag(cmd, &server)
	cmd.Flags().DurationVar(&interval, "interval", tui.DefaultInterval, "polling interval")
	return cmd
}
